package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rentalcore/internal/app/uow"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

// fixtureSet is the on-disk shape of FIXTURES_PATH; see data/fixtures.json.
type fixtureSet struct {
	Properties     []propertyFixture      `json:"properties"`
	Accommodations []accommodationFixture `json:"accommodations"`
}

type propertyFixture struct {
	ID            string `json:"id"`
	LandlordID    string `json:"landlord_id"`
	TotalRooms    int    `json:"total_rooms"`
	OccupiedRooms int    `json:"occupied_rooms"`
}

type accommodationFixture struct {
	ID         string `json:"id"`
	PropertyID string `json:"property_id"`
	OwnerID    string `json:"owner_id"`
	Status     string `json:"status"`
	PriceCents int64  `json:"price_cents"`
}

func (fx fixtureSet) properties() []domainoccupancy.Property {
	now := time.Now().UTC()
	out := make([]domainoccupancy.Property, 0, len(fx.Properties))
	for _, p := range fx.Properties {
		out = append(out, domainoccupancy.Property{
			ID:            domainoccupancy.PropertyID(p.ID),
			LandlordID:    p.LandlordID,
			TotalRooms:    p.TotalRooms,
			OccupiedRooms: p.OccupiedRooms,
			UpdatedAt:     now,
		})
	}
	return out
}

func (fx fixtureSet) accommodations() []domainoccupancy.Accommodation {
	now := time.Now().UTC()
	out := make([]domainoccupancy.Accommodation, 0, len(fx.Accommodations))
	for _, a := range fx.Accommodations {
		status := domainoccupancy.RoomStatus(strings.ToLower(strings.TrimSpace(a.Status)))
		if status == "" {
			status = domainoccupancy.RoomAvailable
		}
		out = append(out, domainoccupancy.Accommodation{
			ID:         domainoccupancy.AccommodationID(a.ID),
			PropertyID: domainoccupancy.PropertyID(a.PropertyID),
			OwnerID:    a.OwnerID,
			Status:     status,
			PriceCents: a.PriceCents,
			UpdatedAt:  now,
		})
	}
	return out
}

func (fx fixtureSet) validate() error {
	for _, p := range fx.Properties {
		if p.ID == "" || p.TotalRooms < 0 || p.OccupiedRooms < 0 || p.OccupiedRooms > p.TotalRooms {
			return fmt.Errorf("property fixture %q: invalid room counts", p.ID)
		}
	}
	for _, a := range fx.Accommodations {
		if a.ID == "" || a.OwnerID == "" {
			return fmt.Errorf("accommodation fixture %q: id and owner_id are required", a.ID)
		}
		if s := domainoccupancy.RoomStatus(strings.ToLower(strings.TrimSpace(a.Status))); s != "" && !s.Valid() {
			return fmt.Errorf("accommodation fixture %q: unknown status %q", a.ID, a.Status)
		}
	}
	return nil
}

func (a *application) loadFixtures(ctx context.Context, path string) error {
	if path == "" {
		path = defaultFixturesPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Info("fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		a.logger.Warn("fixtures file empty", "path", path)
		return nil
	}

	var fx fixtureSet
	if err := json.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	if err := fx.validate(); err != nil {
		return err
	}
	if err := a.backend.seed(ctx, fx); err != nil {
		return fmt.Errorf("seed fixtures: %w", err)
	}
	a.logger.Info("fixtures imported", "path", path, "properties", len(fx.Properties), "accommodations", len(fx.Accommodations))
	return nil
}

// seedThroughUnits inserts fixtures with the regular repositories. Rows that
// already exist fail their version check and are left untouched.
func seedThroughUnits(ctx context.Context, units uow.UoWFactory, fx fixtureSet) error {
	props := fx.properties()
	for i := range props {
		err := uow.Within(ctx, units, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) error {
			return unit.Properties().Save(ctx, &props[i])
		})
		if err != nil && !errors.Is(err, uow.ErrConcurrentUpdate) {
			return err
		}
	}
	rooms := fx.accommodations()
	for i := range rooms {
		err := uow.Within(ctx, units, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) error {
			return unit.Accommodations().Save(ctx, &rooms[i])
		})
		if err != nil && !errors.Is(err, uow.ErrConcurrentUpdate) {
			return err
		}
	}
	return nil
}

func defaultFixturesPath() string {
	candidates := []string{
		filepath.Join("data", "fixtures.json"),
		filepath.Join("..", "..", "data", "fixtures.json"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return candidates[0]
}
