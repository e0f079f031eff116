package initcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	initcmder "github.com/papercomputeco/warden/cmd/warden/init"
	"github.com/papercomputeco/warden/pkg/config"
)

var _ = Describe("NewInitCmd", func() {
	It("takes no arguments and has a --preset flag", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Use).To(Equal("init"))
		Expect(cmd.Args(cmd, []string{})).To(Succeed())
		Expect(cmd.Args(cmd, []string{"extra"})).NotTo(Succeed())

		f := cmd.Flags().Lookup("preset")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal(""))
	})
})

var _ = Describe("Init command execution", func() {
	var (
		tmpDir  string
		origDir string
	)

	run := func(args ...string) error {
		cmd := initcmder.NewInitCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	loadConfig := func() *config.Config {
		data, err := os.ReadFile(filepath.Join(tmpDir, ".warden", "config.toml"))
		Expect(err).NotTo(HaveOccurred())
		cfg, err := config.ParseConfigTOML(data)
		Expect(err).NotTo(HaveOccurred())
		return cfg
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "warden-init-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tmpDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	It("creates .warden with a default config", func() {
		Expect(run()).To(Succeed())

		Expect(filepath.Join(tmpDir, ".warden")).To(BeADirectory())
		cfg := loadConfig()
		Expect(cfg.Version).To(Equal(config.CurrentV))
		Expect(cfg.LLM.Provider).To(Equal("ollama"))
		Expect(cfg.API.Listen).To(Equal(":8090"))
	})

	It("applies a provider preset", func() {
		Expect(run("--preset", "anthropic")).To(Succeed())

		cfg := loadConfig()
		Expect(cfg.LLM.Provider).To(Equal("anthropic"))
		Expect(cfg.LLM.Target).To(Equal("https://api.anthropic.com"))
	})

	It("rejects unknown presets before touching the filesystem", func() {
		Expect(run("--preset", "mistral")).To(MatchError(ContainSubstring("unknown preset")))
		Expect(filepath.Join(tmpDir, ".warden")).NotTo(BeADirectory())
	})

	It("leaves an existing config alone", func() {
		dir := filepath.Join(tmpDir, ".warden")
		Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "config.toml"), []byte("version = 0\n[agent]\nuser_id = \"alice\"\n"), 0o600)).To(Succeed())

		Expect(run("--preset", "openai")).To(Succeed())

		cfg := loadConfig()
		Expect(cfg.Agent.UserID).To(Equal("alice"))
		Expect(cfg.LLM.Provider).To(Equal("ollama"))
	})
})
