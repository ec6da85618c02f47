package service_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/livescore/internal/adapters/http/auth"
	"github.com/okian/livescore/internal/adapters/repository"
	service "github.com/okian/livescore/internal/app"
	"github.com/okian/livescore/internal/config"
	"github.com/okian/livescore/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
}

const doc = `<?xml version="1.0"?>
<dynamicresults>
  <contest>CQ-WW-CW</contest>
  <call>K1ABC</call>
  <class power="LOW" assisted="NON-ASSISTED"/>
  <breakdown>
    <qso band="20" mode="CW">40</qso>
    <qso band="40" mode="CW">20</qso>
  </breakdown>
  <score>1800</score>
  <timestamp>2026-11-28 12:00:00</timestamp>
</dynamicresults>`

func testConfig(t *testing.T, credMode os.FileMode) *config.Config {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.yaml")
	if err := os.WriteFile(creds, []byte("keys:\n  station-a: secret-a\n"), credMode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(creds, credMode); err != nil {
		t.Fatal(err)
	}
	cfg := config.New()
	cfg.Addr = "127.0.0.1:0"
	cfg.DBPath = ""
	cfg.CredentialsPath = creds
	cfg.DeadLetterPath = filepath.Join(dir, "dead.jsonl")
	cfg.BatchInterval = time.Hour
	cfg.StopTimeout = 5 * time.Second
	return cfg
}

func TestServiceStartup(t *testing.T) {
	Convey("Given a credential file readable by others", t, func() {
		svc := service.New(testConfig(t, 0o644))

		Convey("Start refuses to run", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, auth.ErrCredentialsExposed), ShouldBeTrue)
		})
	})

	Convey("Given no credential file", t, func() {
		cfg := testConfig(t, 0o600)
		cfg.CredentialsPath = filepath.Join(t.TempDir(), "missing.yaml")
		svc := service.New(cfg)

		Convey("Start refuses to run", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, auth.ErrCredentialsMissing), ShouldBeTrue)
		})
	})

	Convey("Stop before Start reports it", t, func() {
		So(service.New(nil).Stop(context.Background()), ShouldEqual, service.ErrNotStarted)
	})
}

func TestServicePipeline(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(testConfig(t, 0o600))
		So(svc.Start(ctx), ShouldBeNil)
		h := svc.Handler()

		Convey("A signed submission is stored on the next flush and rates are served", func() {
			req := httptest.NewRequest(http.MethodPost, "/livescore", strings.NewReader(doc))
			auth.Sign(req, "station-a", "secret-a", time.Now())
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusOK)

			So(svc.Flush(ctx), ShouldEqual, repository.Committed)

			report, err := svc.Rates(ctx, "K1ABC", "CQ-WW-CW")
			So(err, ShouldBeNil)
			So(report.QSOs, ShouldEqual, 60)

			w = httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rates?contest=CQ-WW-CW&callsign=K1ABC&window=60", nil))
			So(w.Code, ShouldEqual, http.StatusOK)

			w = httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"storage":"ok"`)
		})

		Convey("Starting twice is refused", func() {
			So(svc.Start(ctx), ShouldEqual, service.ErrAlreadyStarted)
		})

		Reset(func() {
			So(svc.Stop(ctx), ShouldBeNil)
		})
	})
}
