package receipt

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CategoryNormalizer", func() {
	var normalizer *CategoryNormalizer

	BeforeEach(func() {
		normalizer = NewCategoryNormalizer()
	})

	DescribeTable("Normalize",
		func(raw string, expected Category) {
			Expect(normalizer.Normalize(raw)).To(Equal(expected))
		},
		Entry("canonical lower case", "fuel", CategoryFuel),
		Entry("canonical mixed case", "Fuel", CategoryFuel),
		Entry("upload route Toll", "Toll", CategoryTolls),
		Entry("upload route Food", "Food", CategoryMeals),
		Entry("upload route Others", "Others", CategoryOther),
		Entry("upload route Maintenance", "Maintenance", CategoryMaintenance),
		Entry("surrounding whitespace", "  tolls  ", CategoryTolls),
		Entry("slash separated", "Phone / Internet", CategoryPhoneInternet),
		Entry("hyphen separated", "phone-internet", CategoryPhoneInternet),
		Entry("driver shorthand", "DIESEL", CategoryFuel),
		Entry("empty", "", CategoryOther),
		Entry("whitespace only", "   ", CategoryOther),
		Entry("unknown", "spaceship rental", CategoryOther),
		Entry("punctuation", "!!!", CategoryOther),
	)

	It("should always return a member of the vocabulary", func() {
		inputs := []string{"", "x", "FUEL", "tOlL", "😀", "fuel\x00", "other", "パーキング", "null", "12345"}
		for _, in := range inputs {
			Expect(normalizer.Normalize(in).Valid()).To(BeTrue(), "input %q", in)
		}
	})

	It("should be idempotent on its own output", func() {
		for _, in := range []string{"Toll", "Food", "gasoline", "whatever"} {
			once := normalizer.Normalize(in)
			Expect(normalizer.Normalize(string(once))).To(Equal(once))
		}
	})

	It("should tolerate a nil normalizer", func() {
		var n *CategoryNormalizer
		Expect(n.Normalize("fuel")).To(Equal(CategoryFuel))
		Expect(n.Normalize("toll")).To(Equal(CategoryOther))
	})

	Describe("AddSynonym", func() {
		It("should register a new alias", func() {
			Expect(normalizer.AddSynonym("Gasul", CategoryFuel)).To(Succeed())
			Expect(normalizer.Normalize("gasul")).To(Equal(CategoryFuel))
		})

		It("should not remap canonical names", func() {
			Expect(normalizer.AddSynonym("tolls", CategoryMeals)).NotTo(Succeed())
		})

		It("should reject unknown targets", func() {
			Expect(normalizer.AddSynonym("spaceship", Category("space"))).NotTo(Succeed())
		})

		It("should leave other normalizers untouched", func() {
			Expect(normalizer.AddSynonym("gasul", CategoryFuel)).To(Succeed())
			Expect(NormalizeCategory("gasul")).To(Equal(CategoryOther))
		})
	})

	Describe("LoadSynonyms", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "categories.yaml")
		})

		It("should load aliases from YAML", func() {
			Expect(os.WriteFile(path, []byte("synonyms:\n  gasul: fuel\n  skyway: Tolls\n"), 0644)).To(Succeed())
			Expect(normalizer.LoadSynonyms(path)).To(Succeed())
			Expect(normalizer.Normalize("Skyway")).To(Equal(CategoryTolls))
			Expect(normalizer.Normalize("gasul")).To(Equal(CategoryFuel))
		})

		It("should fail on an unknown category", func() {
			Expect(os.WriteFile(path, []byte("synonyms:\n  skyway: teleport\n"), 0644)).To(Succeed())
			Expect(normalizer.LoadSynonyms(path)).To(MatchError(ContainSubstring("unknown category")))
		})

		It("should fail on invalid YAML", func() {
			Expect(os.WriteFile(path, []byte("synonyms: [unterminated"), 0644)).To(Succeed())
			Expect(normalizer.LoadSynonyms(path)).NotTo(Succeed())
		})

		It("should fail when the file is missing", func() {
			Expect(normalizer.LoadSynonyms(path + ".missing")).NotTo(Succeed())
		})
	})
})
