package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"routemate/internal/locations"
	"routemate/internal/onboarding"
	"routemate/internal/profiles"
)

const (
	demoAdminEmail  = "admin@rettsted.local"
	demoDriverEmail = "driver@rettsted.local"
	demoPassword    = "routemate"
)

// seedDemo registers a demo organization with one admin, one driver and a
// handful of delivery locations for local development.
func seedDemo(ctx context.Context, onboardingSvc *onboarding.Service, locationSvc *locations.Service, logger *slog.Logger) error {
	admin, err := onboardingSvc.Register(ctx, onboarding.RegisterInput{
		Name:             "Kari Nordmann",
		OrganizationName: "Nordmann Transport",
		Email:            demoAdminEmail,
		Password:         demoPassword,
	})
	if err != nil {
		return fmt.Errorf("register demo organization: %w", err)
	}
	actor := onboarding.Actor{UID: admin.Profile.UID, OrganizationID: admin.Organization.ID, Role: profiles.RoleAdmin}

	invite, err := onboardingSvc.Invite(ctx, actor, onboarding.InviteInput{
		Email:       demoDriverEmail,
		Role:        profiles.RoleDriver,
		DisplayName: "Ola Sjåfør",
	})
	if err != nil {
		return fmt.Errorf("invite demo driver: %w", err)
	}
	token := invite.Link[strings.LastIndex(invite.Link, "/")+1:]
	if _, err := onboardingSvc.AcceptInvite(ctx, token, onboarding.AcceptInput{Password: demoPassword}); err != nil {
		return fmt.Errorf("accept demo invite: %w", err)
	}

	member := locations.Member{UID: admin.Profile.UID, Name: admin.Profile.DisplayName, OrganizationID: admin.Organization.ID}
	for _, input := range demoLocations() {
		if _, err := locationSvc.Create(ctx, member, input); err != nil {
			return fmt.Errorf("create demo location %q: %w", input.Name, err)
		}
	}

	logger.Info("seeded demo organization",
		"organization", admin.Organization.Name,
		"admin", demoAdminEmail,
		"driver", demoDriverEmail,
		"password", demoPassword,
	)
	return nil
}

func demoLocations() []locations.CreateInput {
	return []locations.CreateInput{
		{
			Name:           "Rema 1000 Grünerløkka",
			Address:        "Thorvald Meyers gate 40, 0555 Oslo",
			OpeningHours:   "Mon-Sat 07-23",
			AccessNotes:    "Goods entrance on Grüners gate, ring the bell marked VAREMOTTAK.",
			ParkingNotes:   "Loading zone in front of the entrance, max 15 minutes.",
			ReceivingNotes: "Cold goods straight to the back room.",
		},
		{
			Name:                  "Kiwi Majorstuen",
			Address:               "Bogstadveien 52, 0366 Oslo",
			OpeningHours:          "Mon-Fri 07-23, Sat 08-22",
			AccessNotes:           "Use the back yard from Josefines gate. Code 4411.",
			ParkingNotes:          "Tight yard, reverse in.",
			SpecialConsiderations: "No deliveries between 11 and 13 on weekdays.",
		},
		{
			Name:           "Meny Bislett",
			Address:        "Pilestredet 63, 0350 Oslo",
			OpeningHours:   "Mon-Sat 08-22",
			AccessNotes:    "Ramp at the basement entrance.",
			ReceivingNotes: "Ask for the shift manager to sign.",
		},
	}
}
