package conversation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Region groups the stores a user can pick from.
type Region struct {
	Name   string   `yaml:"name"`
	Stores []string `yaml:"stores"`
}

// TrainingTopic is canned guidance returned from the training menu.
type TrainingTopic struct {
	Title    string   `yaml:"title"`
	Steps    []string `yaml:"steps"`
	VideoURL string   `yaml:"video_url"`
	GuideURL string   `yaml:"guide_url"`
}

// Catalog holds the fixed option tables of the conversation.
type Catalog struct {
	Regions  []Region        `yaml:"regions"`
	Training []TrainingTopic `yaml:"training"`
}

// DefaultCatalog returns the built-in regions, stores and training topics.
func DefaultCatalog() Catalog {
	return Catalog{
		Regions: []Region{
			{Name: "Central", Stores: []string{"Doornkop", "Kus", "Mponeng", "Moab hostel", "Moab shaft"}},
			{Name: "RTB", Stores: []string{
				"Eland", "Zondereinde", "Union", "Richard", "Spud", "12", "20", "16",
				"Ratanang", "Hospital", "Simunye", "Target", "Marula",
			}},
			{Name: "Welkom", Stores: []string{"Tshepong", "Phakisa", "Target", "Masimong", "Joel"}},
		},
		Training: []TrainingTopic{
			{Title: "Receiving Stock", Steps: []string{
				"Check delivery note against order", "Count items carefully", "Verify product quality",
				"Update system immediately", "Store items in correct locations", "Report any discrepancies",
			}},
			{Title: "Refund Requests", Steps: []string{
				"Check receipt validity", "Verify item condition", "Confirm return policy compliance",
				"Process refund in system", "Issue refund receipt", "Update inventory",
			}},
			{Title: "Merchandising", Steps: []string{
				"Arrange products attractively", "Check and update pricing", "Maintain product displays",
				"Ensure cleanliness", "Monitor stock levels", "Follow planogram guidelines",
			}},
			{Title: "Stock Counting", Steps: []string{
				"Count physical stock accurately", "Compare with system records", "Note any discrepancies",
				"Double-check problem areas", "Submit variance report", "Update system if authorized",
			}},
			{Title: "Transferring Stock", Steps: []string{
				"Create transfer documentation", "Pack items securely", "Update system records",
				"Arrange transportation", "Send to destination", "Confirm receipt",
			}},
			{Title: "Viewing Balances", Steps: []string{
				"Access system properly", "Select correct item", "Check current balance",
				"Note last update time", "Verify accuracy", "Report issues if found",
			}},
			{Title: "Printing", Steps: []string{
				"Select correct document", "Choose appropriate printer", "Check printer settings",
				"Preview before printing", "Print and verify output", "Report printer issues",
			}},
		},
	}
}

// LoadCatalog reads a YAML catalog. An empty path yields the default catalog.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if len(cat.Training) == 0 {
		cat.Training = DefaultCatalog().Training
	}
	if err := cat.Validate(); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// Validate rejects catalogs the menus cannot render.
func (c Catalog) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("catalog: at least one region is required")
	}
	seen := map[string]bool{}
	for _, r := range c.Regions {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("catalog: region name is required")
		}
		if seen[strings.ToLower(name)] {
			return fmt.Errorf("catalog: duplicate region %q", name)
		}
		seen[strings.ToLower(name)] = true
		if len(r.Stores) == 0 {
			return fmt.Errorf("catalog: region %q has no stores", name)
		}
	}
	for _, t := range c.Training {
		if strings.TrimSpace(t.Title) == "" || len(t.Steps) == 0 {
			return fmt.Errorf("catalog: training topic needs a title and steps")
		}
	}
	return nil
}

// Region looks a region up by name, ignoring case.
func (c Catalog) Region(name string) (Region, bool) {
	for _, r := range c.Regions {
		if strings.EqualFold(strings.TrimSpace(r.Name), strings.TrimSpace(name)) {
			return r, true
		}
	}
	return Region{}, false
}
