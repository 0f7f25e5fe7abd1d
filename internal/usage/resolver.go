package usage

import (
	"context"

	"github.com/mailonline/chpusage/internal/chp"
	"github.com/mailonline/chpusage/internal/storage"
)

// AssetQuerier looks up hub asset IDs.
type AssetQuerier interface {
	QueryAssetID(ctx context.Context, l chp.Lookup) (chp.LookupResult, error)
}

// Resolver fills in the hub asset ID of an image.
type Resolver struct {
	client AssetQuerier
}

func NewResolver(client AssetQuerier) *Resolver {
	return &Resolver{client: client}
}

// Resolve looks up the asset ID of img and records the outcome on u. It does
// nothing when u already has an asset ID.
//
// The primary lookup is by global ID; byXURN switches to the XURN derived
// from the attached file name. An image without a global ID is only looked
// up by XURN. Lookup failures are recorded on u, not returned.
func (r *Resolver) Resolve(ctx context.Context, img storage.Attachment, u *ImageUsage, byXURN bool) {
	if u.AssetID != "" {
		return
	}
	if img.GlobalID == "" && !byXURN {
		u.ErrorGID = ErrNoGID
		return
	}

	xurn, typ := chp.DeriveXURN(img.File)
	lookup := chp.ByGID(img.GlobalID, typ)
	if byXURN {
		lookup = chp.ByXURN(xurn, typ)
	}

	res, err := r.client.QueryAssetID(ctx, lookup)
	if err != nil {
		u.WPError = err.Error()
	}
	u.trace(xurn, res.Status)
	if res.AssetID != "" {
		u.AssetID = res.AssetID
	}
}
