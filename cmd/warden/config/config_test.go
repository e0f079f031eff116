package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	configcmder "github.com/papercomputeco/warden/cmd/warden/config"
	"github.com/papercomputeco/warden/pkg/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))

		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		tmpDir  string
		origDir string
		out     *bytes.Buffer
	)

	run := func(args ...string) error {
		cmd := configcmder.NewConfigCmd()
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "warden-config-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		Expect(os.MkdirAll(filepath.Join(tmpDir, ".warden"), 0o755)).To(Succeed())
		Expect(os.Chdir(tmpDir)).To(Succeed())
		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	It("sets and reads back a value", func() {
		Expect(run("set", "agent.max_cycles", "5")).To(Succeed())
		Expect(filepath.Join(tmpDir, ".warden", "config.toml")).To(BeAnExistingFile())

		out.Reset()
		Expect(run("get", "agent.max_cycles")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("5"))

		cfg, err := config.ParseConfigTOML(mustRead(filepath.Join(tmpDir, ".warden", "config.toml")))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Agent.MaxCycles).To(Equal(5))
	})

	It("rejects unknown keys", func() {
		Expect(run("set", "proxy.provider", "anthropic")).To(MatchError(ContainSubstring("unknown config key")))
		Expect(run("get", "nope")).To(MatchError(ContainSubstring("unknown config key")))
	})

	It("rejects values of the wrong type", func() {
		Expect(run("set", "agent.max_cycles", "many")).To(HaveOccurred())
	})

	It("requires exactly two arguments for set", func() {
		Expect(run("set", "agent.max_cycles")).To(HaveOccurred())
	})

	It("lists every key", func() {
		Expect(run("list")).To(Succeed())
		for _, key := range config.ValidConfigKeys() {
			Expect(out.String()).To(ContainSubstring(key))
		}
	})
})

func mustRead(path string) []byte {
	data, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())
	return data
}
