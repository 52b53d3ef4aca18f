package policy

import "strings"

// Evaluator performs pure policy decisions.
type Evaluator struct {
	mode       Mode
	restricted map[string]struct{}
	posting    map[string]struct{}
}

// NewEvaluator builds a deterministic, side-effect free evaluator. Empty lists
// fall back to the defaults.
func NewEvaluator(cfg Config) Evaluator {
	platforms := cfg.RestrictedPlatforms
	if len(platforms) == 0 {
		platforms = DefaultRestrictedPlatforms
	}
	actions := cfg.PostingActions
	if len(actions) == 0 {
		actions = DefaultPostingActions
	}

	return Evaluator{
		mode:       normalizeMode(cfg.Mode),
		restricted: toSet(platforms),
		posting:    toSet(actions),
	}
}

// Evaluate returns a deterministic decision for the given input.
func (e Evaluator) Evaluate(input Input) Decision {
	platform := DetectPlatform(input.Target, input.Platform)
	action := normalize(input.Action)
	if action == "" {
		action = "send"
	}

	_, restricted := e.restricted[platform]
	_, posting := e.posting[action]

	switch e.mode {
	case ModeOff:
		return Decision{Action: ActionAllow, Platform: platform}
	case ModeRelaxed:
		if restricted && posting {
			return Decision{Action: ActionRequireApproval, Platform: platform, Reason: "posting to restricted platform"}
		}
		return Decision{Action: ActionAllow, Platform: platform}
	case ModeStrict:
		if restricted {
			return Decision{Action: ActionRequireApproval, Platform: platform, Reason: "restricted platform"}
		}
		if posting && platform == UnknownPlatform {
			return Decision{Action: ActionRequireApproval, Platform: platform, Reason: "platform could not be detected"}
		}
		return Decision{Action: ActionAllow, Platform: platform}
	default:
		return Decision{Action: ActionDeny, Platform: platform, Reason: "unknown policy mode"}
	}
}

// platformHints maps target substrings to platforms, checked in order.
var platformHints = []struct {
	hint     string
	platform string
}{
	{"twitter", "twitter"},
	{"x.com", "twitter"},
	{"linkedin", "linkedin"},
	{"facebook", "facebook"},
	{"instagram", "instagram"},
	{"tiktok", "tiktok"},
	{"discord", "discord"},
}

// DetectPlatform returns the explicit platform when given, otherwise infers it
// from the target.
func DetectPlatform(target, explicit string) string {
	if p := normalize(explicit); p != "" {
		return p
	}
	lowered := strings.ToLower(target)
	for _, h := range platformHints {
		if strings.Contains(lowered, h.hint) {
			return h.platform
		}
	}
	return UnknownPlatform
}

func normalizeMode(mode Mode) Mode {
	switch normalize(string(mode)) {
	case "":
		return ModeRelaxed
	case string(ModeStrict):
		return ModeStrict
	case string(ModeRelaxed):
		return ModeRelaxed
	case string(ModeOff):
		return ModeOff
	default:
		return Mode(normalize(string(mode)))
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		normalized := normalize(item)
		if normalized == "" {
			continue
		}
		set[normalized] = struct{}{}
	}
	return set
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
