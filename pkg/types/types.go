// Package types holds the GORM-mapped domain rows of the registry:
// users, tokens, crates, versions and ownership grants.
package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a registry account. Accounts are provisioned by the out-of-scope
// cookie/OAuth HTTP layer; this store only ever reads/writes the row.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Principal   string    `gorm:"uniqueIndex;not null" json:"principal"` // external OAuth subject
	Email       string    `gorm:"index" json:"email"`
	DisplayName string    `json:"display_name"`
	Active      bool      `gorm:"default:true" json:"active"`
	IsAdmin     bool      `gorm:"default:false" json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID if one hasn't been set.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Token capability bits, per spec §3 Token.
const (
	TokenCapPublish = 1 << iota
	TokenCapYank
	TokenCapManageOwners
	TokenCapAdmin
)

// Token is an opaque-secret API credential. Only its SHA-256 fingerprint is
// ever persisted; the cleartext secret is returned once, at creation time.
type Token struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID      uuid.UUID `gorm:"type:uuid;index;not null" json:"owner_id"`
	Name         string    `json:"name"`
	Fingerprint  string    `gorm:"uniqueIndex;not null" json:"-"`
	Capabilities int       `json:"capabilities"`
	IsReserved   bool      `gorm:"default:false" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// BeforeCreate assigns a UUID if one hasn't been set.
func (t *Token) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// HasCapability reports whether the token carries the given capability bit.
func (t *Token) HasCapability(cap int) bool {
	return t.Capabilities&cap == cap
}

// DepsCheckStatus is the result state of the dependency/vulnerability scan
// for one version (spec §3 Version, deps-check state machine).
type DepsCheckStatus string

const (
	DepsCheckPending DepsCheckStatus = "pending"
	DepsCheckOK      DepsCheckStatus = "ok"
	DepsCheckIssues  DepsCheckStatus = "issues"
)

// DocsStatus is the doc-build state machine for one version (spec §4.5).
type DocsStatus string

const (
	DocsNone     DocsStatus = "none"
	DocsQueued   DocsStatus = "queued"
	DocsBuilding DocsStatus = "building"
	DocsDone     DocsStatus = "done"
	DocsFailed   DocsStatus = "failed"
)

// Crate is a published package name. Names are unique, lowercase, and
// follow cargo's identifier grammar (spec §3 Crate).
type Crate struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string    `gorm:"uniqueIndex;not null" json:"name"`
	Targets       string    `json:"targets"` // comma-joined whitelist subset
	DownloadCount int64     `gorm:"default:0" json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Versions   []Version  `gorm:"foreignKey:CrateID" json:"-"`
	Ownerships []Ownership `gorm:"foreignKey:CrateID" json:"-"`
}

// BeforeCreate assigns a UUID if one hasn't been set.
func (c *Crate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Version is one published (name, semver) pair.
type Version struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CrateID    uuid.UUID `gorm:"type:uuid;index;index:idx_crate_number,unique;not null" json:"crate_id"`
	Number     string    `gorm:"index:idx_crate_number,unique" json:"num"`
	Checksum   string    `json:"cksum"`
	UploadedAt time.Time `json:"uploaded_at"`
	Yanked     bool      `gorm:"default:false" json:"yanked"`

	DepsCheckStatus  DepsCheckStatus `gorm:"default:pending" json:"deps_check_status"`
	DepsCheckAt      *time.Time      `json:"deps_check_at,omitempty"`
	DepsCheckSummary string          `json:"deps_check_summary,omitempty"`

	DocsStatus    DocsStatus `gorm:"default:none" json:"docs_status"`
	DocsAt        *time.Time `json:"docs_at,omitempty"`
	DocsReason    string     `json:"docs_reason,omitempty"`
	DocsAttempts  int        `json:"-"`

	DownloadCount int64 `gorm:"default:0" json:"download_count"`

	// Supplemental display fields recovered from the Cargo.toml packed
	// inside the uploaded tarball (spec §4.7 supplement), independent of
	// the JSON publish manifest, which stays the wire format of record.
	Description string `json:"description,omitempty"`
	License     string `json:"license,omitempty"`
	Authors     string `json:"authors,omitempty"` // pipe-joined
	Keywords    string `json:"keywords,omitempty"` // pipe-joined
}

// BeforeCreate assigns a UUID if one hasn't been set.
func (v *Version) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// Ownership is a many-to-many grant between a user and a crate. A crate
// must always retain at least one ownership row (spec §3 invariant).
type Ownership struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CrateID   uuid.UUID `gorm:"type:uuid;index:idx_crate_user,unique;not null" json:"crate_id"`
	UserID    uuid.UUID `gorm:"type:uuid;index:idx_crate_user,unique;not null" json:"user_id"`
	GrantedBy uuid.UUID `gorm:"type:uuid" json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
}

// BeforeCreate assigns a UUID if one hasn't been set.
func (o *Ownership) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// PublishManifest is the JSON metadata object a cargo client sends as the
// first length-prefixed segment of the publish wire format (spec §6).
type PublishManifest struct {
	Name            string              `json:"name"`
	Vers            string              `json:"vers"`
	Deps            []ManifestDep       `json:"deps"`
	Features        map[string][]string `json:"features"`
	Authors         []string            `json:"authors"`
	Description     string              `json:"description"`
	Documentation   string              `json:"documentation"`
	Homepage        string              `json:"homepage"`
	Readme          string              `json:"readme"`
	ReadmeFile      string              `json:"readme_file"`
	Keywords        []string            `json:"keywords"`
	Categories      []string            `json:"categories"`
	License         string              `json:"license"`
	LicenseFile     string              `json:"license_file"`
	Repository      string              `json:"repository"`
	Links           string              `json:"links"`
}

// ManifestDep is one dependency entry in a PublishManifest.
type ManifestDep struct {
	Name               string              `json:"name"`
	VersionReq         string              `json:"version_req"`
	Features           []string            `json:"features"`
	Optional           bool                `json:"optional"`
	DefaultFeatures    bool                `json:"default_features"`
	Target             *string             `json:"target"`
	Kind               string              `json:"kind"`
	Registry           *string             `json:"registry"`
	ExplicitNameInToml string              `json:"explicit_name_in_toml,omitempty"`
}

// IndexDep is the dependency shape embedded in one index JSON line (spec
// §6). It names the requirement `req` instead of `version_req`, carries the
// renamed-from crate in `package`, and has no explicit_name_in_toml field.
type IndexDep struct {
	Name               string   `json:"name"`
	Req                string   `json:"req"`
	Features           []string `json:"features"`
	Optional           bool     `json:"optional"`
	DefaultFeatures    bool     `json:"default_features"`
	Target             *string  `json:"target,omitempty"`
	Kind               string   `json:"kind"`
	Registry           *string  `json:"registry,omitempty"`
	Package            string   `json:"package,omitempty"`
}

// IndexLine is one JSON line of a crate's index file (spec §3 IndexEntry,
// §6 wire schema).
type IndexLine struct {
	Name     string              `json:"name"`
	Vers     string              `json:"vers"`
	Deps     []IndexDep          `json:"deps"`
	Cksum    string              `json:"cksum"`
	Features map[string][]string `json:"features"`
	Yanked   bool                `json:"yanked"`
	Links    string              `json:"links,omitempty"`
	V        int                 `json:"v"`
}
