package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/logger"
)

func decodeLine(buf *bytes.Buffer) map[string]any {
	var parsed map[string]any
	ExpectWithOffset(1, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &parsed)).To(Succeed())
	return parsed
}

var _ = Describe("New", func() {
	var buf bytes.Buffer

	BeforeEach(func() {
		buf.Reset()
	})

	It("writes text records at info by default", func() {
		l := logger.New(logger.WithWriter(&buf))
		l.Info("turn finished", "status", "SUPPORTED")
		l.Debug("turn transition")

		Expect(buf.String()).To(ContainSubstring("turn finished"))
		Expect(buf.String()).To(ContainSubstring("status=SUPPORTED"))
		Expect(buf.String()).NotTo(ContainSubstring("turn transition"))
	})

	It("emits debug records when debug is on", func() {
		l := logger.New(logger.WithWriter(&buf), logger.WithDebug(true))
		l.Debug("turn transition", "from", "VALIDATE", "to", "SYNTHESIZE")

		Expect(buf.String()).To(ContainSubstring("turn transition"))
	})

	It("honors an explicit level", func() {
		l := logger.New(logger.WithWriter(&buf), logger.WithLevel(slog.LevelWarn))
		l.Info("reloaded policy")
		Expect(buf.String()).To(BeEmpty())

		l.Warn("answer withheld")
		Expect(buf.String()).To(ContainSubstring("answer withheld"))
	})

	It("writes one JSON object per record", func() {
		l := logger.New(logger.WithWriter(&buf), logger.WithJSON(true))
		l.Info("learned user facts", "facts", 2)

		parsed := decodeLine(&buf)
		Expect(parsed["msg"]).To(Equal("learned user facts"))
		Expect(parsed["facts"]).To(BeNumerically("==", 2))
	})

	It("renders pretty output", func() {
		l := logger.New(logger.WithWriter(&buf), logger.WithPretty(true))
		l.Info("starting server", "addr", ":8090")

		Expect(buf.String()).To(ContainSubstring("starting server"))
		Expect(buf.String()).To(ContainSubstring(":8090"))
	})

	It("copies output to every writer", func() {
		var other bytes.Buffer
		l := logger.New(logger.WithWriters(&buf, &other))
		l.Info("shutting down")

		Expect(buf.String()).To(ContainSubstring("shutting down"))
		Expect(other.String()).To(ContainSubstring("shutting down"))
	})

	It("binds the component to every record", func() {
		l := logger.New(logger.WithWriter(&buf), logger.WithJSON(true), logger.WithComponent("mcp"))
		l.Info("tool called")

		Expect(decodeLine(&buf)["component"]).To(Equal("mcp"))
	})
})

var _ = Describe("Turn", func() {
	It("scopes records to a turn and user", func() {
		var buf bytes.Buffer
		l := logger.Turn(logger.New(logger.WithWriter(&buf), logger.WithJSON(true)), "turn-1", "alice")
		l.Info("turn started")

		parsed := decodeLine(&buf)
		Expect(parsed["turn_id"]).To(Equal("turn-1"))
		Expect(parsed["user_id"]).To(Equal("alice"))
	})
})

var _ = Describe("Nop", func() {
	It("is disabled at every level", func() {
		l := logger.Nop()
		for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelError} {
			Expect(l.Handler().Enabled(context.Background(), level)).To(BeFalse())
		}
		Expect(func() { l.With("turn_id", "x").WithGroup("g").Error("ignored") }).NotTo(Panic())
	})
})

var _ = Describe("Multi", func() {
	It("fans records out to console and file loggers", func() {
		var console, file bytes.Buffer
		multi := logger.Multi(
			logger.New(logger.WithWriter(&console)),
			logger.New(logger.WithWriter(&file), logger.WithJSON(true)),
		)
		multi.Info("reloaded policy", "allow_partial", true)

		Expect(console.String()).To(ContainSubstring("reloaded policy"))
		Expect(decodeLine(&file)["allow_partial"]).To(BeTrue())
	})

	It("skips nil loggers", func() {
		var buf bytes.Buffer
		multi := logger.Multi(nil, logger.New(logger.WithWriter(&buf)))
		multi.Info("ok")

		Expect(buf.String()).To(ContainSubstring("ok"))
	})

	It("keeps groups and attributes on derived loggers", func() {
		var buf bytes.Buffer
		multi := logger.Multi(logger.New(logger.WithWriter(&buf), logger.WithJSON(true)))
		multi.With("component", "api").WithGroup("request").Info("handled", "route", "/v1/ask")

		parsed := decodeLine(&buf)
		Expect(parsed["component"]).To(Equal("api"))
		group, ok := parsed["request"].(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(group["route"]).To(Equal("/v1/ask"))
	})
})
