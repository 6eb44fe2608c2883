package eventbus

import "testing"

func TestMatchExact(t *testing.T) {
	if !Match("sf.scan1.IP_ADDRESS", "sf.scan1.IP_ADDRESS") {
		t.Fatal("expected exact match")
	}
}

func TestMatchSingleWildcard(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"sf.scan1.*", "sf.scan1.IP_ADDRESS", true},
		{"sf.scan1.*", "sf.scan1.DOMAIN_NAME", true},
		{"sf.scan1.*", "sf.scan2.IP_ADDRESS", false},
		{"sf.scan1.*", "sf.scan1.IP_ADDRESS.extra", false},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.topic); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.pattern, c.topic, got, c.want)
		}
	}
}

func TestMatchTailWildcard(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"sf.scan1.>", "sf.scan1.IP_ADDRESS", true},
		{"sf.scan1.>", "sf.scan1.a.b.c", true},
		{"sf.scan1.>", "sf.scan2.IP_ADDRESS", false},
		{">", "sf.scan1.IP_ADDRESS", true},
		{">", "anything", true},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.topic); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.pattern, c.topic, got, c.want)
		}
	}
}

func TestValidPatternRejectsMidStreamTail(t *testing.T) {
	if ValidPattern("sf.>.scan1") {
		t.Fatal("expected ValidPattern to reject '>' outside the final segment")
	}
	if !ValidPattern("sf.scan1.>") {
		t.Fatal("expected ValidPattern to accept trailing '>'")
	}
}

func TestValidTopicRejectsEmptySegments(t *testing.T) {
	if ValidTopic("sf..IP_ADDRESS") {
		t.Fatal("expected ValidTopic to reject empty segments")
	}
	if !ValidTopic("sf.scan1.IP_ADDRESS") {
		t.Fatal("expected ValidTopic to accept well-formed topic")
	}
}
