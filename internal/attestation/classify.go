package attestation

// Tier is the discrete trust level. It is always the minimum of the two
// sides' individual strength — a single weak leg caps overall trust.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
	TierNone   Tier = "none"
)

// Summary is the per-side status table shown on the dashboard.
type Summary struct {
	AgentCode       string `json:"agent_code"`
	LLMInference    string `json:"llm_inference"`
	EndToEndPrivacy string `json:"end_to_end_privacy"`
}

// Classification is the classifier output: a tier plus a deterministic
// explanation selected from a fixed table. Explanations are never freeform.
type Classification struct {
	Tier        Tier    `json:"tier"`
	Explanation string  `json:"explanation"`
	Summary     Summary `json:"summary"`
}

const (
	statusVerified   = "verified"
	statusUnverified = "unverified"
)

// explanations is keyed by {enclave status, service outcome}. The dashboard
// must be able to distinguish "environment doesn't support it" from
// "something is actively wrong", so each combination has its own entry.
var explanations = map[[2]string]string{
	{statusVerified, string(OutcomeVerified)}: "Full end-to-end privacy verified. " +
		"The agent code is running unmodified in a confidential VM and all LLM " +
		"inference happens in an attested confidential environment.",
	{statusVerified, string(OutcomePartial)}: "Agent code verified in the confidential VM. " +
		"The LLM service presented an authenticated TLS channel but no hardware " +
		"attestation payload was obtainable.",
	{statusVerified, string(OutcomeUnverified)}: "Agent code verified in the confidential VM, " +
		"but the LLM service could not be reached or verified.",
	{statusUnverified, string(OutcomeVerified)}: "LLM inference verified in a confidential " +
		"environment. Agent code attestation is not available; the agent may not be " +
		"running inside a confidential VM.",
	{statusUnverified, string(OutcomePartial)}: "Neither side is hardware-verified. The LLM " +
		"service TLS channel was authenticated, and the agent is not running inside a " +
		"confidential VM.",
	{statusUnverified, string(OutcomeUnverified)}: "Attestation not available on either side. " +
		"The agent is likely running in development mode outside of confidential " +
		"environments.",
}

// Classify maps the presence and validity of each side into a trust tier.
// Tie-break is the minimum of the two sides, never an average: a fully
// verified enclave next to a partial service yields exactly medium.
func Classify(enclave MeasurementSet, service ServiceAttestation) Classification {
	enclaveOK := enclave.FullyPresent()
	serviceOK := service.Outcome == OutcomeVerified
	servicePartial := service.Outcome == OutcomePartial

	var tier Tier
	switch {
	case enclaveOK && serviceOK:
		tier = TierHigh
	case enclaveOK && servicePartial:
		tier = TierMedium
	case enclaveOK || serviceOK:
		tier = TierLow
	default:
		tier = TierNone
	}

	enclaveStatus := statusUnverified
	if enclaveOK {
		enclaveStatus = statusVerified
	}
	serviceStatus := statusUnverified
	if serviceOK {
		serviceStatus = statusVerified
	}
	privacy := "partial"
	if tier == TierHigh {
		privacy = "guaranteed"
	} else if tier == TierNone {
		privacy = "none"
	}

	return Classification{
		Tier:        tier,
		Explanation: explanations[[2]string{enclaveStatus, string(service.Outcome)}],
		Summary: Summary{
			AgentCode:       enclaveStatus,
			LLMInference:    serviceStatus,
			EndToEndPrivacy: privacy,
		},
	}
}
