package credentials_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/credentials"
)

var _ = Describe("Manager", func() {
	var (
		tmpDir string
		mgr    *credentials.Manager
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "credentials-test-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })

		mgr, err = credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("targets credentials.toml in the override directory", func() {
		Expect(mgr.GetTarget()).To(Equal(filepath.Join(tmpDir, "credentials.toml")))
	})

	It("returns empty credentials when no file exists", func() {
		creds, err := mgr.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(creds.Providers).To(BeEmpty())
	})

	It("loads hand written credentials", func() {
		data := `version = 0

[providers.hosted-memory]
api_key = "m0-key"
`
		Expect(os.WriteFile(mgr.GetTarget(), []byte(data), 0o600)).To(Succeed())

		key, err := mgr.GetKey(credentials.ProviderHostedMemory)
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(Equal("m0-key"))
	})

	It("rejects malformed TOML", func() {
		Expect(os.WriteFile(mgr.GetTarget(), []byte("not valid [[["), 0o600)).To(Succeed())
		_, err := mgr.Load()
		Expect(err).To(HaveOccurred())
	})

	It("persists keys with restricted permissions", func() {
		Expect(mgr.SetKey("openai", "sk-1")).To(Succeed())
		Expect(mgr.SetKey("anthropic", "sk-2")).To(Succeed())

		info, err := os.Stat(mgr.GetTarget())
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))

		providers, err := mgr.ListProviders()
		Expect(err).NotTo(HaveOccurred())
		Expect(providers).To(Equal([]string{"anthropic", "openai"}))
	})

	It("removes keys", func() {
		Expect(mgr.SetKey("openai", "sk-1")).To(Succeed())
		Expect(mgr.RemoveKey("openai")).To(Succeed())

		key, err := mgr.GetKey("openai")
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(BeEmpty())
	})

	It("refuses to save nil credentials", func() {
		Expect(mgr.Save(nil)).NotTo(Succeed())
	})

	Describe("Resolve", func() {
		It("prefers the explicit value", func() {
			Expect(mgr.SetKey("openai", "stored")).To(Succeed())
			Expect(mgr.Resolve("openai", "explicit")).To(Equal("explicit"))
		})

		It("falls back to the stored key", func() {
			Expect(mgr.SetKey("openai", "stored")).To(Succeed())
			Expect(mgr.Resolve("openai", "")).To(Equal("stored"))
		})

		It("falls back to the environment", func() {
			GinkgoT().Setenv("WARDEN_MEMORY_API_KEY", "from-env")
			Expect(mgr.Resolve(credentials.ProviderHostedMemory, "")).To(Equal("from-env"))
		})

		It("works on a nil manager", func() {
			var nilMgr *credentials.Manager
			GinkgoT().Setenv("ANTHROPIC_API_KEY", "env-key")
			Expect(nilMgr.Resolve("anthropic", "")).To(Equal("env-key"))
		})
	})
})

var _ = Describe("Providers", func() {
	It("maps providers to environment variables", func() {
		Expect(credentials.EnvVarForProvider("openai")).To(Equal("OPENAI_API_KEY"))
		Expect(credentials.EnvVarForProvider(credentials.ProviderHostedMemory)).To(Equal("WARDEN_MEMORY_API_KEY"))
		Expect(credentials.EnvVarForProvider("ollama")).To(BeEmpty())
	})

	It("lists providers that need keys", func() {
		Expect(credentials.SupportedProviders()).To(ConsistOf("openai", "anthropic", "hosted-memory"))
		Expect(credentials.IsSupportedProvider("ollama")).To(BeFalse())
	})
})

var _ = Describe("Entries", func() {
	It("describes stored keys without exposing them", func() {
		mgr, err := credentials.NewManager(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.SetKey("openai", "  sk-proj-abcdef1234  ")).To(Succeed())

		entries, err := mgr.Entries()
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Provider).To(Equal("openai"))
		Expect(entries[0].EnvVar).To(Equal("OPENAI_API_KEY"))
		Expect(entries[0].Masked).To(Equal("********1234"))
		Expect(entries[0].StoredAt).NotTo(BeZero())

		Expect(mgr.GetKey("openai")).To(Equal("sk-proj-abcdef1234"))
	})

	It("rejects blank keys", func() {
		mgr, err := credentials.NewManager(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.SetKey("openai", "   ")).NotTo(Succeed())
	})

	It("masks short keys entirely", func() {
		Expect(credentials.Mask("abc")).To(Equal("***"))
	})
})
