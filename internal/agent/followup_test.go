package agent

import "testing"

func TestFollowupSteerDeliversImmediately(t *testing.T) {
	var gotKey, gotText string
	q := NewFollowupQueue(ModeSteer, func(sessionKey, text string) {
		gotKey, gotText = sessionKey, text
	})

	q.Enqueue("telegram:42", "hello")
	if gotKey != "telegram:42" || gotText != "hello" {
		t.Fatalf("steer did not deliver: %q %q", gotKey, gotText)
	}
	if q.Pending("telegram:42") != 0 {
		t.Fatal("steer mode should not accumulate")
	}
}

func TestFollowupCollectAccumulates(t *testing.T) {
	q := NewFollowupQueue(ModeCollect, nil)

	q.Enqueue("telegram:42", "one")
	q.Enqueue("telegram:42", "two")
	q.Enqueue("telegram:7", "other")

	if q.Pending("telegram:42") != 2 {
		t.Fatalf("pending: %d", q.Pending("telegram:42"))
	}

	msgs := q.Drain("telegram:42")
	if len(msgs) != 2 || msgs[0] != "one" || msgs[1] != "two" {
		t.Fatalf("drained: %v", msgs)
	}
	if q.Pending("telegram:42") != 0 {
		t.Fatal("drain did not clear")
	}
	if q.Pending("telegram:7") != 1 {
		t.Fatal("drain leaked into other session")
	}
}

func TestSentinels(t *testing.T) {
	cases := []struct {
		text    string
		deliver bool
	}{
		{"hello", true},
		{"NO_REPLY", false},
		{"  NO_REPLY  ", false},
		{"NO_REPLY.", false},
		{"done. NO_REPLY", false},
		{"NO_REPLYING is a word", true},
		{"(done)", false},
		{"(aborted)", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ShouldDeliver(tc.text); got != tc.deliver {
			t.Errorf("ShouldDeliver(%q) = %v, want %v", tc.text, got, tc.deliver)
		}
	}
}

func TestComposeSystemPrompt(t *testing.T) {
	got := ComposeSystemPrompt("You are Bob.", "Context: subagent run.", "<available_skills>\n- bash: run\n</available_skills>")
	want := "Context: subagent run.\n\nYou are Bob.\n\n<available_skills>\n- bash: run\n</available_skills>"
	if got != want {
		t.Fatalf("got %q", got)
	}

	// Default prompt kicks in when the agent has none configured.
	got = ComposeSystemPrompt("", "", "")
	if got != defaultSystemPrompt {
		t.Fatalf("default prompt not used: %q", got)
	}
}
