package wire

import (
	"errors"
	"testing"
	"time"

	"github.com/avolkovv/relaypub/internal/model"
)

func TestEncode_Req(t *testing.T) {
	t.Parallel()
	b, err := Encode(ReqEnvelope{
		SubscriptionID: "sub-1",
		Filter:         Filter{Kinds: []int{model.KindAppData}, Limit: 1},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `["REQ","sub-1",{"kinds":[30078],"limit":1}]`
	if string(b) != want {
		t.Fatalf("req frame = %s, want %s", b, want)
	}
}

func TestEncode_AuthAndEvent(t *testing.T) {
	t.Parallel()
	ev := model.NewAuthProof("pk", "wss://r.example", "c1", time.Unix(1, 0))
	ev.ID, ev.Sig = "id1", "sig1"

	b, err := Encode(AuthEnvelope{Event: ev})
	if err != nil {
		t.Fatalf("encode auth: %v", err)
	}
	env, decErr := Decode(b)
	// Outbound AUTH carries an object, not a challenge string; a relay parses
	// it by position, our Decode only handles the inbound direction.
	if decErr == nil {
		t.Fatalf("inbound decode of outbound AUTH should fail, got %#v", env)
	}

	b, err = Encode(EventEnvelope{Event: ev})
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	if string(b[:9]) != `["EVENT",` {
		t.Fatalf("event frame prefix: %s", b)
	}
}

func TestDecode_Challenge(t *testing.T) {
	t.Parallel()
	env, err := Decode([]byte(`["AUTH","c-123"]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ch, ok := env.(ChallengeEnvelope)
	if !ok {
		t.Fatalf("want ChallengeEnvelope, got %#v", env)
	}
	if ch.Challenge != "c-123" {
		t.Fatalf("challenge = %q", ch.Challenge)
	}
}

func TestDecode_OK(t *testing.T) {
	t.Parallel()
	env, err := Decode([]byte(`["OK","ev1",false,"rate-limited"]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	res, ok := env.(OKEnvelope)
	if !ok {
		t.Fatalf("want OKEnvelope, got %#v", env)
	}
	if res.EventID != "ev1" || res.OK || res.Reason != "rate-limited" {
		t.Fatalf("ok = %+v", res)
	}

	// reason is optional
	env, err = Decode([]byte(`["OK","ev2",true]`))
	if err != nil {
		t.Fatalf("decode short OK: %v", err)
	}
	if res := env.(OKEnvelope); !res.OK || res.Reason != "" {
		t.Fatalf("short ok = %+v", res)
	}
}

func TestDecode_Closed(t *testing.T) {
	t.Parallel()
	env, err := Decode([]byte(`["CLOSED","sub-1","auth-required: do auth"]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cl := env.(ClosedEnvelope)
	if cl.SubscriptionID != "sub-1" || cl.Reason != "auth-required: do auth" {
		t.Fatalf("closed = %+v", cl)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `{`, ErrMalformed},
		{"not array", `{"a":1}`, ErrMalformed},
		{"too short", `["OK"]`, ErrMalformed},
		{"ok missing flag", `["OK","id"]`, ErrMalformed},
		{"numeric label", `[1,"x"]`, ErrMalformed},
		{"unknown label", `["NOTICE","hi"]`, ErrUnknownLabel},
		{"eose", `["EOSE","sub-1"]`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.in))
			if tc.want == nil {
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}
