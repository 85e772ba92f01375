package canonicaljson

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "sorted keys", input: `{"b": 1, "a": 2}`, want: `{"a":2,"b":1}`},
		{name: "nested", input: `{"z": {"y": [3, 2, {"b": null, "a": true}]}}`, want: `{"z":{"y":[3,2,{"a":true,"b":null}]}}`},
		{name: "no html escape", input: `{"k": "<&>"}`, want: `{"k":"<&>"}`},
		{name: "numbers kept", input: `{"n": 1.50, "big": 12345678901234567890}`, want: `{"big":12345678901234567890,"n":1.50}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalize_Invalid(t *testing.T) {
	for _, in := range []string{"", "{", `{"a":1} {"b":2}`} {
		if _, err := Canonicalize([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestMarshal(t *testing.T) {
	got, err := Marshal(map[string]any{"method": "GET", "destination": "b", "origin": "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"destination":"b","method":"GET","origin":"a"}` {
		t.Errorf("unexpected output %s", got)
	}
}

func TestWithout(t *testing.T) {
	got, err := Without([]byte(`{"b":1,"signatures":{"x":{}},"unsigned":{},"a":{"c":2.0}}`), "signatures", "unsigned")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"a":{"c":2.0},"b":1}` {
		t.Errorf("unexpected output %s", got)
	}

	for _, in := range []string{"null", "[1]", `"s"`} {
		if _, err := Without([]byte(in), "a"); err == nil {
			t.Errorf("expected error for %s", in)
		}
	}
}
