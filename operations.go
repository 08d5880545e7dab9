package strata

import (
	"context"
	"fmt"
	"net/url"
)

// OperationExecutor performs a single transaction operation against the
// remote API. The Client is the production implementation; tests substitute
// their own.
type OperationExecutor interface {
	ExecuteOperation(ctx context.Context, op Operation) error
}

// resourcePath returns the collection path and metrics endpoint label for an
// operation's resource type.
func resourcePath(kind OperationKind) (path, endpoint string, err error) {
	switch kind {
	case OpCreateIndex, OpDeleteIndex, OpModifyIndex:
		return "/services/data/indexes", "data/indexes", nil
	case OpCreateUser, OpDeleteUser, OpModifyUser:
		return "/services/access/users", "access/users", nil
	case OpCreateRole, OpDeleteRole, OpModifyRole:
		return "/services/access/roles", "access/roles", nil
	case OpCreateMacro, OpDeleteMacro, OpUpdateMacro:
		return "/services/config/macros", "config/macros", nil
	case OpCreateSavedSearch, OpDeleteSavedSearch, OpUpdateSavedSearch:
		return "/services/saved/searches", "saved/searches", nil
	default:
		return "", "", fmt.Errorf("strata: unknown operation kind %q", kind)
	}
}

// ExecuteOperation dispatches one transaction operation to the management
// API through the resilience engine. Creates POST to the collection, modifies
// POST to the named resource, deletes DELETE the named resource.
func (c *Client) ExecuteOperation(ctx context.Context, op Operation) error {
	base, endpoint, err := resourcePath(op.Kind)
	if err != nil {
		return err
	}
	named := base + "/" + url.PathEscape(op.Name)

	switch op.Kind {
	case OpCreateIndex, OpCreateUser, OpCreateRole, OpCreateMacro, OpCreateSavedSearch:
		form := url.Values{}
		form.Set("name", op.Name)
		for k, v := range op.Params {
			form.Set(k, v)
		}
		return c.PostForm(ctx, base, endpoint, form, nil)

	case OpModifyIndex, OpModifyUser, OpModifyRole, OpUpdateMacro, OpUpdateSavedSearch:
		form := url.Values{}
		for k, v := range op.Params {
			form.Set(k, v)
		}
		return c.PostForm(ctx, named, endpoint, form, nil)

	case OpDeleteIndex, OpDeleteUser, OpDeleteRole, OpDeleteMacro, OpDeleteSavedSearch:
		return c.Delete(ctx, named, endpoint)

	default:
		return fmt.Errorf("strata: unknown operation kind %q", op.Kind)
	}
}
