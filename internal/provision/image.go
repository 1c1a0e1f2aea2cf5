package provision

import (
	"regexp"

	"github.com/blang/semver/v4"

	"github.com/jbweber/hutch/internal/config"
	"github.com/jbweber/hutch/internal/multipass"
)

// Tier is the resolved image preference level.
type Tier int

const (
	// None means no catalog entry is usable.
	None Tier = iota
	// BestAvailable is the first release-looking entry in the catalog.
	BestAvailable
	// Fallback is the configured fallback release.
	Fallback
	// Primary is the configured preferred release.
	Primary
)

func (t Tier) String() string {
	switch t {
	case Primary:
		return "primary"
	case Fallback:
		return "fallback"
	case BestAvailable:
		return "best-available"
	default:
		return "none"
	}
}

// ImageSelection is the resolved image for a run: the catalog token handed to
// launch plus the tier it came from. Resolved once per run and cached; the
// catalog is not re-queried per target.
type ImageSelection struct {
	Tier  Tier
	Image string
}

// releaseName matches catalog names that look like a release version
// (e.g. 24.04). Validated through semver's tolerant parser so a stray
// non-numeric token never slips through.
var releaseName = regexp.MustCompile(`^\d+\.\d+$`)

// SelectImage resolves the image tier against the catalog. Order is fixed:
// primary tier, fallback tier, first release-looking entry, nothing. The
// ordered fallback exists because image catalogs drift over time; the
// workflow degrades tier by tier instead of hard-failing on a stale name.
func SelectImage(catalog []multipass.CatalogEntry, primary, fallback config.ImageTier) ImageSelection {
	if img, ok := matchTier(catalog, primary); ok {
		return ImageSelection{Tier: Primary, Image: img}
	}
	if img, ok := matchTier(catalog, fallback); ok {
		return ImageSelection{Tier: Fallback, Image: img}
	}
	for _, e := range catalog {
		if !releaseName.MatchString(e.Name) {
			continue
		}
		if _, err := semver.ParseTolerant(e.Name); err != nil {
			continue
		}
		return ImageSelection{Tier: BestAvailable, Image: e.Name}
	}
	return ImageSelection{Tier: None}
}

// matchTier finds a catalog entry identified by the tier's codename or
// version string.
func matchTier(catalog []multipass.CatalogEntry, tier config.ImageTier) (string, bool) {
	for _, e := range catalog {
		if e.Matches(tier.Codename) || e.Matches(tier.Version) {
			return e.Name, true
		}
	}
	return "", false
}
