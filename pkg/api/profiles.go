package api

import (
	"context"
	"fmt"
)

// FunctionUserManagement provisions users on first sign-in.
const FunctionUserManagement = "user-management"

// GetUserByClerkID looks up the users row for an identity user id.
// A missing row returns ErrNotFound.
func (b *Backend) GetUserByClerkID(ctx context.Context, clerkID string) (*User, error) {
	var user User
	err := b.From(TableUsers).
		Select("*").
		Eq("clerk_id", clerkID).
		Single().
		Execute(ctx, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetProfile returns the profile for a users row.
func (b *Backend) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var profile UserProfile
	err := b.From(TableUserProfile).
		Select("*").
		Eq("user_id", userID).
		Single().
		Execute(ctx, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile patches a profile by id.
func (b *Backend) UpdateProfile(ctx context.Context, profileID string, patch map[string]any) (*UserProfile, error) {
	var profile UserProfile
	err := b.From(TableUserProfile).
		Eq("id", profileID).
		Single().
		Update(ctx, patch, &profile)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &profile, nil
}

// GetCredits returns the credit balance of a profile.
func (b *Backend) GetCredits(ctx context.Context, profileID string) (int, error) {
	var row struct {
		Credits int `json:"credits"`
	}
	err := b.From(TableUserProfile).
		Select("credits").
		Eq("id", profileID).
		Single().
		Execute(ctx, &row)
	if err != nil {
		return 0, err
	}
	return row.Credits, nil
}

// ProvisionUser asks the user-management function to create the users and
// user_profile rows for a new identity user.
func (b *Backend) ProvisionUser(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	if req.Action == "" {
		req.Action = "create"
	}
	var resp ProvisionResponse
	if err := b.InvokeFunction(ctx, FunctionUserManagement, req, &resp); err != nil {
		return nil, fmt.Errorf("provision user: %w", err)
	}
	return &resp, nil
}
