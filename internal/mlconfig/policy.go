package mlconfig

// PolicyConfig carries evaluate()'s policyDefaults: a
// default set of capability allow/deny entries applied when no more
// specific policy has been registered for an operation.
type PolicyConfig struct {
	DefaultAllow []string
	DefaultDeny  []string
}

func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{}
}
