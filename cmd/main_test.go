package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/livescore/internal/adapters/http/auth"
)

type staticKeys map[string]auth.Credential

func (s staticKeys) Lookup(id string) (auth.Credential, bool) {
	c, ok := s[id]
	return c, ok
}

func run(args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		root := newRootCmd()

		convey.Convey("Then it exposes serve, sign and submit", func() {
			names := map[string]bool{}
			for _, c := range root.Commands() {
				names[c.Name()] = true
			}
			convey.So(names["serve"], convey.ShouldBeTrue)
			convey.So(names["sign"], convey.ShouldBeTrue)
			convey.So(names["submit"], convey.ShouldBeTrue)
		})
	})
}

func TestSignCommand(t *testing.T) {
	convey.Convey("Given fixed key, secret and timestamp", t, func() {
		out, _, err := run("sign", "--key", "k1", "--secret", "s3cret", "--at", "1700000000")
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then the printed signature verifies", func() {
			convey.So(out, convey.ShouldContainSubstring, "X-API-Key: k1\n")
			convey.So(out, convey.ShouldContainSubstring, "X-Timestamp: 1700000000\n")
			convey.So(out, convey.ShouldContainSubstring, "X-Signature: "+auth.Signature("s3cret", "k1", "1700000000"))
		})
	})

	convey.Convey("Missing flags are an error", t, func() {
		_, _, err := run("sign", "--key", "k1")
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestSubmitCommand(t *testing.T) {
	convey.Convey("Given a gateway that checks signatures", t, func() {
		verifier := auth.NewVerifier(staticKeys{"k1": {KeyID: "k1", Secret: "s3cret"}})
		var got []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := verifier.VerifyRequest(r); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			body, _ := io.ReadAll(r.Body)
			got = append(got, string(body))
			_, _ = io.WriteString(w, "OK-Full")
		}))
		defer srv.Close()

		path := filepath.Join(t.TempDir(), "score.xml")
		convey.So(os.WriteFile(path, []byte(`<?xml version="1.0"?><dynamicresults><call>K1ABC</call></dynamicresults>`), 0o600), convey.ShouldBeNil)

		convey.Convey("Then a signed, percent-encoded file is accepted", func() {
			out, _, err := run("submit", "--url", srv.URL, "--key", "k1", "--secret", "s3cret", path)
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "200 OK-Full")
			convey.So(got, convey.ShouldHaveLength, 1)
			convey.So(got[0], convey.ShouldStartWith, "%3C%3Fxml")
		})

		convey.Convey("Then a wrong secret fails the command", func() {
			_, _, err := run("submit", "--url", srv.URL, "--key", "k1", "--secret", "nope", path)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(strings.Contains(err.Error(), "1 of 1"), convey.ShouldBeTrue)
		})
	})
}
