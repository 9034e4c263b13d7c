package app

import (
	"context"

	"sentinel/api/internal/scope"
)

// MoveMatter reparents a matter, or promotes it to a client when
// newParentID is nil. Structural validation happens before any write:
// a matter cannot become its own parent and cannot move under one of
// its descendants.
func (s *Service) MoveMatter(ctx context.Context, a scope.Actor, id int64, newParentID *int64) error {
	if err := requireActor(a); err != nil {
		return err
	}
	m, err := s.store.GetMatter(ctx, a, id)
	if err != nil {
		return mapStoreErr(err, "matter")
	}
	if !scope.WritableRow(m.OwnerID, a) {
		return errNotFound("matter")
	}

	if newParentID != nil {
		if *newParentID == id {
			return errInvalidTreeOp("a matter cannot be its own parent")
		}
		parent, err := s.store.GetMatter(ctx, a, *newParentID)
		if err != nil {
			return mapStoreErr(err, "parent matter")
		}
		if parent.OwnerID != m.OwnerID {
			return errInvalidTreeOp("a matter cannot move into another owner's forest")
		}
		under, err := s.isDescendant(ctx, *newParentID, id)
		if err != nil {
			return err
		}
		if under {
			return errInvalidTreeOp("cannot move a matter under its own descendant")
		}
	}

	if err := s.store.UpdateMatterParent(ctx, a, id, newParentID); err != nil {
		return mapStoreErr(err, "matter")
	}
	TreeMutationsTotal.WithLabelValues("move", "ok").Inc()
	s.indexMatter(ctx, m)
	return nil
}

// MergeMatters absorbs source into target: every time entry on source
// is reassigned to target, source's children are reparented to target,
// then source is deleted, atomically in the store.
func (s *Service) MergeMatters(ctx context.Context, a scope.Actor, sourceID, targetID int64) error {
	if err := requireActor(a); err != nil {
		return err
	}
	if sourceID == targetID {
		return errInvalidTreeOp("cannot merge a matter into itself")
	}
	source, err := s.store.GetMatter(ctx, a, sourceID)
	if err != nil {
		return mapStoreErr(err, "source matter")
	}
	target, err := s.store.GetMatter(ctx, a, targetID)
	if err != nil {
		return mapStoreErr(err, "target matter")
	}
	if target.OwnerID != source.OwnerID {
		return errInvalidTreeOp("cannot merge matters across owners")
	}
	under, err := s.isDescendant(ctx, targetID, sourceID)
	if err != nil {
		return err
	}
	if under {
		return errInvalidTreeOp("cannot merge a matter into its own descendant")
	}

	if err := s.store.MergeMatters(ctx, a, sourceID, targetID); err != nil {
		return mapStoreErr(err, "matter")
	}
	TreeMutationsTotal.WithLabelValues("merge", "ok").Inc()
	if s.indexer != nil && s.indexer.Healthy() {
		_ = s.indexer.RemoveMatter(ctx, sourceID)
	}
	return nil
}

// isDescendant reports whether node is a strict descendant of root,
// walking node's system-scoped ancestor chain.
func (s *Service) isDescendant(ctx context.Context, node, root int64) (bool, error) {
	if node == root {
		return false, nil
	}
	chain, err := s.store.AncestorChain(ctx, node)
	if err != nil {
		return false, err
	}
	for _, m := range chain {
		if m.ID == root && m.ID != node {
			return true, nil
		}
	}
	return false, nil
}

// ShareMatter grants userID read and booking access to one matter. If
// the target user already owns a matter with the identical display
// path, the call fails with SHARE_PATH_CONFLICT carrying the colliding
// matter; the caller then either invokes MergeThenShare or drops the
// request. Neither outcome is picked silently.
func (s *Service) ShareMatter(ctx context.Context, a scope.Actor, matterID, userID int64) error {
	if err := requireActor(a); err != nil {
		return err
	}
	m, err := s.store.GetMatter(ctx, a, matterID)
	if err != nil {
		return mapStoreErr(err, "matter")
	}
	// Granting is owner-only. Read visibility through an existing share
	// must not be enough to probe another user's tree for collisions.
	if !scope.WritableRow(m.OwnerID, a) {
		return errNotFound("matter")
	}
	if userID == m.OwnerID {
		return errValidation("cannot share a matter with its owner")
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return mapStoreErr(err, "user")
	}

	if colliding, path, err := s.sharePathCollision(ctx, m.ID, userID); err != nil {
		return err
	} else if colliding != nil {
		TreeMutationsTotal.WithLabelValues("share", "conflict").Inc()
		return errSharePathConflict(colliding.ID, colliding.OwnerID, path)
	}

	if err := s.store.InsertShare(ctx, a, matterID, userID); err != nil {
		return mapStoreErr(err, "matter")
	}
	TreeMutationsTotal.WithLabelValues("share", "ok").Inc()
	return nil
}

// UnshareMatter revokes a grant. Owner-only, like granting.
func (s *Service) UnshareMatter(ctx context.Context, a scope.Actor, matterID, userID int64) error {
	if err := requireActor(a); err != nil {
		return err
	}
	if err := s.store.DeleteShare(ctx, a, matterID, userID); err != nil {
		return mapStoreErr(err, "matter")
	}
	return nil
}

// MergeThenShare resolves a share path collision the merge way: the
// target user's colliding matter is absorbed into the sharer's matter,
// then the share is created. The cross-owner merge runs in the system
// scope; the sharer's authority over their own matter was already
// checked, and the collision is the grantee's matter by definition.
func (s *Service) MergeThenShare(ctx context.Context, a scope.Actor, matterID, userID int64) error {
	if err := requireActor(a); err != nil {
		return err
	}
	m, err := s.store.GetMatter(ctx, a, matterID)
	if err != nil {
		return mapStoreErr(err, "matter")
	}
	if !scope.WritableRow(m.OwnerID, a) {
		return errNotFound("matter")
	}

	colliding, _, err := s.sharePathCollision(ctx, m.ID, userID)
	if err != nil {
		return err
	}
	if colliding != nil {
		if err := s.store.MergeMatters(ctx, scope.System, colliding.ID, matterID); err != nil {
			return mapStoreErr(err, "matter")
		}
		if s.indexer != nil && s.indexer.Healthy() {
			_ = s.indexer.RemoveMatter(ctx, colliding.ID)
		}
	}
	if err := s.store.InsertShare(ctx, a, matterID, userID); err != nil {
		return mapStoreErr(err, "matter")
	}
	return nil
}

// sharePathCollision looks for a matter owned by userID whose display
// path equals the shared matter's path. The walk over the target user's
// forest is a deliberate system-scoped read; only the existence of the
// collision is ever surfaced.
func (s *Service) sharePathCollision(ctx context.Context, matterID, userID int64) (*MatterNode, string, error) {
	chain, err := s.store.AncestorChain(ctx, matterID)
	if err != nil {
		return nil, "", err
	}
	path := joinNames(chain)

	theirs, err := s.store.ListMattersOwnedBy(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	byID := indexByID(theirs)
	for _, m := range theirs {
		p := s.pathWithin(ctx, byID, m)
		if p == path {
			return &MatterNode{Matter: m, Path: p}, path, nil
		}
	}
	return nil, path, nil
}
