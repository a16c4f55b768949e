package provider

import "context"

// ObjectDeleter can delete objects. Stale upload cleanup requires it.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// ListAll pages through every object under prefix.
func ListAll(ctx context.Context, p Provider, prefix string) ([]ObjectSummary, error) {
	var out []ObjectSummary
	token := ""
	for {
		res, err := p.List(ctx, ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Objects...)
		if !res.IsTruncated || res.ContinuationToken == "" {
			return out, nil
		}
		token = res.ContinuationToken
	}
}

// PrefixDeleter removes every object under a prefix in one call, along with
// any directories the backend keeps for it.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}
