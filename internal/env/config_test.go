package env

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sethvargo/go-envconfig"
)

var _ = Describe("Config", func() {
	ctx := context.Background()

	Describe("load()", func() {
		It("applies defaults when nothing is set", func() {
			c, err := load(ctx, envconfig.MapLookuper(nil))
			Expect(err).To(Succeed())
			Expect(c.BufferMiB).To(Equal(1))
			Expect(c.MaxDepth).To(Equal(0))
			Expect(c.Ports).To(Equal([]int{6379}))
			Expect(c.Format).To(BeEmpty())
			Expect(c.LogJSON).To(BeFalse())
		})

		It("reads every variable", func() {
			c, err := load(ctx, envconfig.MapLookuper(map[string]string{
				"RESPSNIFF_BUFFER_MIB": "2",
				"RESPSNIFF_MAX_DEPTH":  "32",
				"RESPSNIFF_PORTS":      "6379,6380",
				"RESPSNIFF_LOG_JSON":   "true",
				"RESPSNIFF_FORMAT":     "cmd,cnt(size)",
			}))
			Expect(err).To(Succeed())
			Expect(c.BufferMiB).To(Equal(2))
			Expect(c.MaxDepth).To(Equal(32))
			Expect(c.Ports).To(Equal([]int{6379, 6380}))
			Expect(c.LogJSON).To(BeTrue())
			Expect(c.Format).To(Equal("cmd,cnt(size)"))
		})

		It("returns an error for a malformed value", func() {
			_, err := load(ctx, envconfig.MapLookuper(map[string]string{
				"RESPSNIFF_MAX_DEPTH": "deep",
			}))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("LoadConfig()", func() {
		var cwd, dir string

		BeforeEach(func() {
			var err error
			cwd, err = os.Getwd()
			Expect(err).To(Succeed())
			dir, err = os.MkdirTemp("", "respsniff-env")
			Expect(err).To(Succeed())
			Expect(os.Chdir(dir)).To(Succeed())
		})

		AfterEach(func() {
			Expect(os.Chdir(cwd)).To(Succeed())
			Expect(os.RemoveAll(dir)).To(Succeed())
			Expect(os.Unsetenv("RESPSNIFF_MAX_DEPTH")).To(Succeed())
			Expect(os.Unsetenv("RESPSNIFF_BUFFER_MIB")).To(Succeed())
		})

		It("succeeds without a dotenv file", func() {
			c, err := LoadConfig(ctx, "")
			Expect(err).To(Succeed())
			Expect(c.BufferMiB).To(Equal(1))
		})

		It("reads the dotenv file without overriding the environment", func() {
			dotenv := []byte("RESPSNIFF_MAX_DEPTH=7\nRESPSNIFF_BUFFER_MIB=3\n")
			Expect(os.WriteFile(filepath.Join(".", DotEnvFile), dotenv, 0o600)).To(Succeed())
			Expect(os.Setenv("RESPSNIFF_BUFFER_MIB", "5")).To(Succeed())

			c, err := LoadConfig(ctx, "")
			Expect(err).To(Succeed())
			Expect(c.MaxDepth).To(Equal(7))
			Expect(c.BufferMiB).To(Equal(5))
		})
	})

	Describe("overlayFile()", func() {
		var path string

		BeforeEach(func() {
			f, err := os.CreateTemp("", "respsniff-*.toml")
			Expect(err).To(Succeed())
			path = f.Name()
			_, err = f.WriteString(`
buffer_mib = 4
ports = [7000, 7001]
format = "cmd,cnt(size)"
`)
			Expect(err).To(Succeed())
			Expect(f.Close()).To(Succeed())
		})

		AfterEach(func() {
			Expect(os.Remove(path)).To(Succeed())
		})

		It("applies keys present in the file", func() {
			l := envconfig.MapLookuper(nil)
			c, err := load(ctx, l)
			Expect(err).To(Succeed())
			Expect(overlayFile(c, path, l)).To(Succeed())
			Expect(c.BufferMiB).To(Equal(4))
			Expect(c.Ports).To(Equal([]int{7000, 7001}))
			Expect(c.Format).To(Equal("cmd,cnt(size)"))
			Expect(c.MaxDepth).To(Equal(0))
		})

		It("lets the environment win over the file", func() {
			l := envconfig.MapLookuper(map[string]string{"RESPSNIFF_BUFFER_MIB": "9"})
			c, err := load(ctx, l)
			Expect(err).To(Succeed())
			Expect(overlayFile(c, path, l)).To(Succeed())
			Expect(c.BufferMiB).To(Equal(9))
			Expect(c.Ports).To(Equal([]int{7000, 7001}))
		})

		It("rejects unknown keys", func() {
			Expect(os.WriteFile(path, []byte("bufer_mib = 4\n"), 0o600)).To(Succeed())
			c, err := load(ctx, envconfig.MapLookuper(nil))
			Expect(err).To(Succeed())
			Expect(overlayFile(c, path, envconfig.MapLookuper(nil))).To(MatchError(ContainSubstring("bufer_mib")))
		})

		It("reports a missing file", func() {
			c, err := load(ctx, envconfig.MapLookuper(nil))
			Expect(err).To(Succeed())
			Expect(overlayFile(c, filepath.Join(path+".d", "missing.toml"), envconfig.MapLookuper(nil))).To(HaveOccurred())
		})
	})
})
