package receipt

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is one member of the fixed expense vocabulary
type Category string

const (
	CategoryFuel          Category = "fuel"
	CategoryTolls         Category = "tolls"
	CategoryMaintenance   Category = "maintenance"
	CategoryTires         Category = "tires"
	CategoryParts         Category = "parts"
	CategoryParking       Category = "parking"
	CategoryMeals         Category = "meals"
	CategoryLodging       Category = "lodging"
	CategorySupplies      Category = "supplies"
	CategoryInsurance     Category = "insurance"
	CategoryPermits       Category = "permits"
	CategoryFees          Category = "fees"
	CategoryPhoneInternet Category = "phone_internet"
	CategoryOffice        Category = "office"
	CategoryOther         Category = "other"
)

var allCategories = []Category{
	CategoryFuel,
	CategoryTolls,
	CategoryMaintenance,
	CategoryTires,
	CategoryParts,
	CategoryParking,
	CategoryMeals,
	CategoryLodging,
	CategorySupplies,
	CategoryInsurance,
	CategoryPermits,
	CategoryFees,
	CategoryPhoneInternet,
	CategoryOffice,
	CategoryOther,
}

// AllCategories returns the vocabulary in display order
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c is in the fixed vocabulary
func (c Category) Valid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// categorySynonyms covers the tag sets used by every extraction prompt
// revision plus common driver shorthand. Keys are in canonical key form.
var categorySynonyms = map[string]Category{
	"toll":            CategoryTolls,
	"toll_fee":        CategoryTolls,
	"rfid":            CategoryTolls,
	"food":            CategoryMeals,
	"meal":            CategoryMeals,
	"others":          CategoryOther,
	"misc":            CategoryOther,
	"miscellaneous":   CategoryOther,
	"diesel":          CategoryFuel,
	"gas":             CategoryFuel,
	"gasoline":        CategoryFuel,
	"petrol":          CategoryFuel,
	"repair":          CategoryMaintenance,
	"repairs":         CategoryMaintenance,
	"mechanic":        CategoryMaintenance,
	"pms":             CategoryMaintenance,
	"service":         CategoryMaintenance,
	"tire":            CategoryTires,
	"tyre":            CategoryTires,
	"tyres":           CategoryTires,
	"part":            CategoryParts,
	"spare_parts":     CategoryParts,
	"hotel":           CategoryLodging,
	"accommodation":   CategoryLodging,
	"permit":          CategoryPermits,
	"registration":    CategoryPermits,
	"fee":             CategoryFees,
	"charges":         CategoryFees,
	"phone":           CategoryPhoneInternet,
	"internet":        CategoryPhoneInternet,
	"mobile":          CategoryPhoneInternet,
	"load":            CategoryPhoneInternet,
	"office_supplies": CategoryOffice,
	"supply":          CategorySupplies,
	"parking_fee":     CategoryParking,
}

// categoryKey lower-cases and collapses separators so "Phone / Internet",
// "phone-internet" and "phone_internet" share a key
func categoryKey(raw string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(raw)), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '-' || r == '_' || r == '/' || r == '&'
	})
	return strings.Join(fields, "_")
}

// CategoryNormalizer maps free-form category strings onto the fixed vocabulary
type CategoryNormalizer struct {
	synonyms map[string]Category
}

// NewCategoryNormalizer returns a normalizer using the built-in synonym table
func NewCategoryNormalizer() *CategoryNormalizer {
	synonyms := make(map[string]Category, len(categorySynonyms))
	for k, v := range categorySynonyms {
		synonyms[k] = v
	}
	return &CategoryNormalizer{synonyms: synonyms}
}

// Normalize never fails; anything unrecognized becomes CategoryOther
func (n *CategoryNormalizer) Normalize(raw string) Category {
	key := categoryKey(raw)
	if key == "" {
		return CategoryOther
	}
	if c := Category(key); c.Valid() {
		return c
	}
	if n != nil {
		if c, ok := n.synonyms[key]; ok {
			return c
		}
	}
	return CategoryOther
}

// AddSynonym registers alias for category. Canonical names cannot be remapped.
func (n *CategoryNormalizer) AddSynonym(alias string, category Category) error {
	key := categoryKey(alias)
	if key == "" {
		return fmt.Errorf("empty category alias")
	}
	if !category.Valid() {
		return fmt.Errorf("alias %q maps to unknown category %q", alias, category)
	}
	if Category(key).Valid() {
		return fmt.Errorf("alias %q is a canonical category", alias)
	}
	n.synonyms[key] = category
	return nil
}

type synonymsFile struct {
	Synonyms map[string]string `yaml:"synonyms"`
}

// LoadSynonyms extends the normalizer from a YAML file of the form
//
//	synonyms:
//	  gasul: fuel
//	  skyway: tolls
func (n *CategoryNormalizer) LoadSynonyms(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading synonyms file: %w", err)
	}
	var f synonymsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing synonyms file: %w", err)
	}
	for alias, target := range f.Synonyms {
		if err := n.AddSynonym(alias, Category(categoryKey(target))); err != nil {
			return fmt.Errorf("synonyms file %s: %w", path, err)
		}
	}
	return nil
}

var defaultNormalizer = NewCategoryNormalizer()

// NormalizeCategory maps raw onto the fixed vocabulary using the built-in table
func NormalizeCategory(raw string) Category {
	return defaultNormalizer.Normalize(raw)
}
