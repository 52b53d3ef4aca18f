package policy

import "testing"

func TestEvaluate_RelaxedRequiresApprovalForPostingToRestricted(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeRelaxed})
	d := ev.Evaluate(Input{Platform: "twitter", Action: "post"})

	if d.Action != ActionRequireApproval {
		t.Fatalf("expected %q, got %q", ActionRequireApproval, d.Action)
	}
	if d.Platform != "twitter" {
		t.Fatalf("expected platform twitter, got %q", d.Platform)
	}
}

func TestEvaluate_RelaxedAllowsNonPostingAction(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeRelaxed})
	d := ev.Evaluate(Input{Platform: "linkedin", Action: "read"})

	if d.Action != ActionAllow {
		t.Fatalf("expected %q, got %q", ActionAllow, d.Action)
	}
}

func TestEvaluate_RelaxedAllowsUnrestrictedPlatform(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeRelaxed})
	d := ev.Evaluate(Input{Target: "discord:#dev", Action: "send"})

	if d.Action != ActionAllow {
		t.Fatalf("expected %q, got %q", ActionAllow, d.Action)
	}
	if d.Platform != "discord" {
		t.Fatalf("expected detected platform discord, got %q", d.Platform)
	}
}

func TestEvaluate_EmptyModeIsRelaxed(t *testing.T) {
	ev := NewEvaluator(Config{})
	if d := ev.Evaluate(Input{Platform: "x", Action: "tweet"}); d.Action != ActionRequireApproval {
		t.Fatalf("expected %q, got %q", ActionRequireApproval, d.Action)
	}
}

func TestEvaluate_StrictGatesAnyActionOnRestricted(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeStrict})
	d := ev.Evaluate(Input{Platform: "facebook", Action: "like"})

	if d.Action != ActionRequireApproval {
		t.Fatalf("expected %q, got %q", ActionRequireApproval, d.Action)
	}
}

func TestEvaluate_StrictGatesUndetectedPosting(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeStrict})
	d := ev.Evaluate(Input{Target: "some-channel", Action: "publish"})

	if d.Action != ActionRequireApproval || d.Platform != UnknownPlatform {
		t.Fatalf("expected approval for unknown platform, got %+v", d)
	}
}

func TestEvaluate_OffAllowsAll(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeOff})
	d := ev.Evaluate(Input{Platform: "twitter", Action: "post"})

	if d.Action != ActionAllow {
		t.Fatalf("expected %q, got %q", ActionAllow, d.Action)
	}
}

func TestEvaluate_UnknownModeDenies(t *testing.T) {
	ev := NewEvaluator(Config{Mode: "paranoid"})
	d := ev.Evaluate(Input{Platform: "twitter", Action: "post"})

	if d.Action != ActionDeny {
		t.Fatalf("expected %q, got %q", ActionDeny, d.Action)
	}
}

func TestEvaluate_ConfiguredListsAreNormalized(t *testing.T) {
	ev := NewEvaluator(Config{
		Mode:                ModeRelaxed,
		RestrictedPlatforms: []string{"  MASTODON  "},
		PostingActions:      []string{" Toot "},
	})

	if d := ev.Evaluate(Input{Platform: "mastodon", Action: "TOOT"}); d.Action != ActionRequireApproval {
		t.Fatalf("expected %q, got %q", ActionRequireApproval, d.Action)
	}
	if d := ev.Evaluate(Input{Platform: "twitter", Action: "toot"}); d.Action != ActionAllow {
		t.Fatalf("expected configured list to replace defaults, got %q", d.Action)
	}
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		target   string
		explicit string
		want     string
	}{
		{"https://x.com/someone", "", "twitter"},
		{"twitter:@handle", "", "twitter"},
		{"LinkedIn company page", "", "linkedin"},
		{"facebook.com/page", "", "facebook"},
		{"instagram:@me", "", "instagram"},
		{"tiktok", "", "tiktok"},
		{"discord:123", "", "discord"},
		{"mailing-list", "", "unknown"},
		{"twitter", "LinkedIn", "linkedin"},
	}
	for _, tt := range tests {
		if got := DetectPlatform(tt.target, tt.explicit); got != tt.want {
			t.Fatalf("DetectPlatform(%q, %q) = %q, want %q", tt.target, tt.explicit, got, tt.want)
		}
	}
}
