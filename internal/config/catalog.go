package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"meetbook/internal/model"
)

// Catalog is the root of rooms.yaml: the room and slot master data.
type Catalog struct {
	Rooms []model.Room `yaml:"rooms"`
	Slots []model.Slot `yaml:"slots"`
}

// LoadCatalog loads and validates the catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		path = "configs/rooms.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

// Validate checks the catalog for errors.
func (c *Catalog) Validate() error {
	if len(c.Rooms) == 0 {
		return fmt.Errorf("no rooms defined")
	}
	if len(c.Slots) == 0 {
		return fmt.Errorf("no slots defined")
	}

	rooms := make(map[string]bool)
	for i, r := range c.Rooms {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return fmt.Errorf("room[%d]: id is required", i)
		}
		if strings.ContainsAny(id, ",\n") {
			return fmt.Errorf("room[%d]: id %q must not contain commas or newlines", i, id)
		}
		if rooms[id] {
			return fmt.Errorf("room[%d]: duplicate id '%s'", i, id)
		}
		rooms[id] = true
	}

	slots := make(map[int]bool)
	for i, s := range c.Slots {
		if s.ID <= 0 {
			return fmt.Errorf("slot[%d]: id must be positive, got %d", i, s.ID)
		}
		if slots[s.ID] {
			return fmt.Errorf("slot[%d]: duplicate id %d", i, s.ID)
		}
		slots[s.ID] = true
		if strings.TrimSpace(s.Label) == "" {
			return fmt.Errorf("slot[%d]: label is required", i)
		}
	}
	return nil
}

func (c *Catalog) applyDefaults() {
	for i := range c.Rooms {
		c.Rooms[i].ID = strings.TrimSpace(c.Rooms[i].ID)
		if c.Rooms[i].Name == "" {
			c.Rooms[i].Name = c.Rooms[i].ID
		}
	}
}

// Room returns the room with id or nil.
func (c *Catalog) Room(id string) *model.Room {
	for i := range c.Rooms {
		if c.Rooms[i].ID == id {
			return &c.Rooms[i]
		}
	}
	return nil
}

// String returns a summary of the catalog.
func (c *Catalog) String() string {
	bookable := 0
	for _, r := range c.Rooms {
		if r.Bookable() {
			bookable++
		}
	}
	return fmt.Sprintf("Catalog: %d rooms (%d bookable), %d slots", len(c.Rooms), bookable, len(c.Slots))
}

// Fingerprint hashes the room and slot data. Formatting and comments in the
// source file do not affect it.
func (c *Catalog) Fingerprint() uint64 {
	data, err := yaml.Marshal(c)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
