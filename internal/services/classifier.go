package services

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/fairwaygolf/assetsync/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Owner kinds a folder grouping can resolve to.
const (
	OwnerCustomer  = "customer"
	OwnerProduct   = "product"
	OwnerComponent = "component"
)

var dateSegmentRegex = regexp.MustCompile(`^(\d{4})[-.](\d{2})[-.](\d{2})$`)

// TypeRule tags a filename when any Contains substring or Prefix matches the
// lower-cased base name.
type TypeRule struct {
	Tag      string   `yaml:"tag" json:"tag"`
	Contains []string `yaml:"contains" json:"contains,omitempty"`
	Prefix   []string `yaml:"prefix" json:"prefix,omitempty"`
}

func (r TypeRule) Matches(name string) bool {
	for _, p := range r.Prefix {
		if strings.HasPrefix(name, strings.ToLower(p)) {
			return true
		}
	}
	for _, c := range r.Contains {
		if strings.Contains(name, strings.ToLower(c)) {
			return true
		}
	}
	return false
}

// OwnerRule maps "<root>/<key>/..." paths to an owning entity.
type OwnerRule struct {
	Kind string `yaml:"kind" json:"kind"`
	Root string `yaml:"root" json:"root"`
}

// ClassifierRules is the policy evaluated by Classifier. Rules are checked in
// order and the first match wins.
type ClassifierRules struct {
	TypeRules   []TypeRule  `yaml:"type_rules" json:"type_rules"`
	DefaultType string      `yaml:"default_type" json:"default_type"`
	Owners      []OwnerRule `yaml:"owners" json:"owners"`
}

// DefaultClassifierRules returns the built-in policy. customerRoot is the
// storage prefix holding one folder per customer.
func DefaultClassifierRules(customerRoot string) ClassifierRules {
	if customerRoot == "" {
		customerRoot = "originals/customers"
	}
	return ClassifierRules{
		TypeRules: []TypeRule{
			{Tag: models.ImageTypeGallery, Contains: []string{"gallery-"}},
			{Tag: models.ImageTypeComposition, Contains: []string{"-sole-", "-500", "composition", "composed"}, Prefix: []string{"500"}},
		},
		DefaultType: models.ImageTypeDetail,
		Owners: []OwnerRule{
			{Kind: OwnerCustomer, Root: customerRoot},
			{Kind: OwnerProduct, Root: "originals/products"},
			{Kind: OwnerComponent, Root: "originals/components"},
		},
	}
}

// FolderGrouping is the derived, non-persisted classification of a path.
type FolderGrouping struct {
	OwnerKind  string `json:"owner_kind,omitempty"`
	OwnerKey   string `json:"owner_key,omitempty"`
	DateFolder string `json:"date_folder,omitempty"`
	ImageType  string `json:"image_type"`
}

// GroupKey identifies the logical folder a file belongs to. Files of the same
// owner share a key regardless of date sub-folder.
func (g FolderGrouping) GroupKey(filePath string) string {
	if g.OwnerKind != "" {
		return g.OwnerKind + ":" + g.OwnerKey
	}
	return "dir:" + path.Dir(filePath)
}

type Classifier struct {
	rules            ClassifierRules
	customerPrimary  *regexp.Regexp
	customerDateOnly *regexp.Regexp
}

func NewClassifier(rules ClassifierRules) (*Classifier, error) {
	if rules.DefaultType == "" {
		rules.DefaultType = models.ImageTypeDetail
	}
	for i, r := range rules.TypeRules {
		if r.Tag == "" {
			return nil, fmt.Errorf("type rule %d has no tag", i)
		}
		if len(r.Contains) == 0 && len(r.Prefix) == 0 {
			return nil, fmt.Errorf("type rule %d (%s) matches nothing", i, r.Tag)
		}
	}
	customerRoot := ""
	for i, o := range rules.Owners {
		o.Root = strings.Trim(o.Root, "/")
		if o.Kind == "" || o.Root == "" {
			return nil, fmt.Errorf("owner rule %d needs kind and root", i)
		}
		rules.Owners[i] = o
		if o.Kind == OwnerCustomer && customerRoot == "" {
			customerRoot = o.Root
		}
	}
	c := &Classifier{rules: rules}
	if customerRoot != "" {
		q := regexp.QuoteMeta(customerRoot)
		c.customerPrimary = regexp.MustCompile(`^` + q + `/([^/]+)/`)
		c.customerDateOnly = regexp.MustCompile(`^` + q + `/([^/]+)/(\d{4}[-.]\d{2}[-.]\d{2})/?$`)
	}
	return c, nil
}

// MustDefaultClassifier panics only if the built-in rules are invalid.
func MustDefaultClassifier(customerRoot string) *Classifier {
	c, err := NewClassifier(DefaultClassifierRules(customerRoot))
	if err != nil {
		panic(err)
	}
	return c
}

// LoadClassifier reads rules from a YAML file. Sections missing from the file
// keep their defaults.
func LoadClassifier(file, customerRoot string) (*Classifier, error) {
	rules := DefaultClassifierRules(customerRoot)
	if file == "" {
		return NewClassifier(rules)
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read classifier rules: %w", err)
	}
	var override ClassifierRules
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("parse classifier rules: %w", err)
	}
	if len(override.TypeRules) > 0 {
		rules.TypeRules = override.TypeRules
	}
	if override.DefaultType != "" {
		rules.DefaultType = override.DefaultType
	}
	if len(override.Owners) > 0 {
		rules.Owners = override.Owners
	}
	return NewClassifier(rules)
}

func (c *Classifier) Rules() ClassifierRules {
	return c.rules
}

// ClassifyImageType returns the tag of the first matching type rule, or the
// default type.
func (c *Classifier) ClassifyImageType(filename string) string {
	name := strings.ToLower(path.Base(filename))
	for _, r := range c.rules.TypeRules {
		if r.Matches(name) {
			return r.Tag
		}
	}
	return c.rules.DefaultType
}

// ExtractCustomerFolder returns the customer folder key of a path under the
// customer root, including paths that end at a date folder.
func (c *Classifier) ExtractCustomerFolder(p string) (string, bool) {
	if c.customerPrimary == nil {
		return "", false
	}
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if m := c.customerPrimary.FindStringSubmatch(p); m != nil {
		return m[1], true
	}
	if m := c.customerDateOnly.FindStringSubmatch(p); m != nil {
		return m[1], true
	}
	return "", false
}

// Group classifies a file path into its owner, date folder and image type.
func (c *Classifier) Group(p string) FolderGrouping {
	p = strings.Trim(strings.TrimSpace(p), "/")
	g := FolderGrouping{ImageType: c.ClassifyImageType(p)}
	if d, ok := ExtractDateFolder(p); ok {
		g.DateFolder = d
	}
	for _, o := range c.rules.Owners {
		if o.Kind == OwnerCustomer {
			if key, ok := c.ExtractCustomerFolder(p); ok {
				g.OwnerKind, g.OwnerKey = o.Kind, key
				return g
			}
			continue
		}
		rest, ok := strings.CutPrefix(p, o.Root+"/")
		if !ok || rest == "" {
			continue
		}
		key, _, _ := strings.Cut(rest, "/")
		g.OwnerKind, g.OwnerKey = o.Kind, key
		return g
	}
	return g
}

// IsDateSegment reports whether seg looks like YYYY-MM-DD or YYYY.MM.DD.
func IsDateSegment(seg string) bool {
	return dateSegmentRegex.MatchString(seg)
}

// ExtractDateFolder returns the first date-folder segment of a path,
// normalised to YYYY-MM-DD.
func ExtractDateFolder(p string) (string, bool) {
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if m := dateSegmentRegex.FindStringSubmatch(seg); m != nil {
			return m[1] + "-" + m[2] + "-" + m[3], true
		}
	}
	return "", false
}

// CustomerResolver maps customers.folder_name to customers.id. It is built
// per run and never shared, so a folder rename mid-run is not observed.
type CustomerResolver struct {
	byFolder map[string]int64
}

func BuildCustomerResolver(ctx context.Context, db *gorm.DB) (*CustomerResolver, error) {
	var customers []models.Customer
	if err := db.WithContext(ctx).
		Select("id", "folder_name").
		Where("folder_name IS NOT NULL AND folder_name <> ''").
		Find(&customers).Error; err != nil {
		return nil, fmt.Errorf("load customer folders: %w", err)
	}
	r := &CustomerResolver{byFolder: make(map[string]int64, len(customers))}
	for _, c := range customers {
		if c.FolderName == nil {
			continue
		}
		r.byFolder[strings.TrimSpace(*c.FolderName)] = c.ID
	}
	return r, nil
}

func NewCustomerResolver(m map[string]int64) *CustomerResolver {
	return &CustomerResolver{byFolder: m}
}

func (r *CustomerResolver) Resolve(folderKey string) (int64, bool) {
	if r == nil {
		return 0, false
	}
	id, ok := r.byFolder[folderKey]
	return id, ok
}

func (r *CustomerResolver) Map() map[string]int64 {
	out := make(map[string]int64, len(r.byFolder))
	for k, v := range r.byFolder {
		out[k] = v
	}
	return out
}
