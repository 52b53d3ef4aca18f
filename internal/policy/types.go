package policy

// Action is the policy decision for an outbound posting attempt.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionRequireApproval Action = "require_approval"
)

// Mode controls evaluator behavior.
type Mode string

const (
	// ModeStrict gates every action on a restricted platform and every
	// posting action whose platform could not be detected.
	ModeStrict Mode = "strict"
	// ModeRelaxed gates posting actions on restricted platforms only.
	ModeRelaxed Mode = "relaxed"
	ModeOff     Mode = "off"
)

// UnknownPlatform is reported when no platform could be detected.
const UnknownPlatform = "unknown"

// DefaultRestrictedPlatforms are the platforms whose posts need a human.
var DefaultRestrictedPlatforms = []string{"twitter", "x", "linkedin", "facebook", "instagram", "tiktok"}

// DefaultPostingActions are the actions that publish content.
var DefaultPostingActions = []string{"send", "post", "tweet", "share", "publish"}

// Config contains policy settings required by the evaluator.
type Config struct {
	Mode                Mode
	RestrictedPlatforms []string
	PostingActions      []string
}

// Input is the minimum evaluation context.
type Input struct {
	Platform string
	Action   string
	Target   string
}

// Decision is the deterministic policy result.
type Decision struct {
	Action   Action
	Platform string
	Reason   string
}
