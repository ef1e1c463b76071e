package signature

import "testing"

func TestSignMatchesKnownVector(test *testing.T) {
	test.Parallel()
	// RFC 4231 test case 2.
	got := Sign("Jefe", []byte("what do ya want for nothing?"))
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		test.Fatalf("expected %s, got %s", want, got)
	}
}

func TestVerify(test *testing.T) {
	test.Parallel()
	body := []byte(`{"stake":100}`)
	signed := Sign("secret", body)
	testCases := []struct {
		name      string
		secret    string
		body      []byte
		presented string
		want      bool
	}{
		{name: "valid", secret: "secret", body: body, presented: signed, want: true},
		{name: "upper case hex", secret: "secret", body: body, presented: "  " + upper(signed) + " ", want: true},
		{name: "wrong secret", secret: "other", body: body, presented: signed, want: false},
		{name: "tampered body", secret: "secret", body: []byte(`{"stake":999}`), presented: signed, want: false},
		{name: "not hex", secret: "secret", body: body, presented: "zz", want: false},
		{name: "empty", secret: "secret", body: body, presented: "", want: false},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := Verify(testCase.secret, testCase.body, testCase.presented); got != testCase.want {
				test.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}

func upper(raw string) string {
	out := []byte(raw)
	for index, char := range out {
		if char >= 'a' && char <= 'f' {
			out[index] = char - 'a' + 'A'
		}
	}
	return string(out)
}
