package enforce

// DefaultPolicies contains the built-in Cedar policies. They only consult
// principal.granted, which is computed in Go from the active policy, so any
// custom capability needs its own permit rule.
const DefaultPolicies = `
permit(
  principal,
  action == ProviderRegistry::Action::"registry:access",
  resource
) when {
  principal.granted.contains("registry:access")
};

permit(
  principal,
  action == ProviderRegistry::Action::"registry:update",
  resource
) when {
  principal.granted.contains("registry:update")
};

permit(
  principal,
  action == ProviderRegistry::Action::"policy:get",
  resource
) when {
  principal.granted.contains("policy:get")
};

permit(
  principal,
  action == ProviderRegistry::Action::"policy:set",
  resource
) when {
  principal.granted.contains("policy:set")
};
`
