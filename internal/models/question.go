package models

// Question is a single multiple choice question already resolved to one language.
// Rooms keep their own copy of these for the whole game.
type Question struct {
	ID           int      `json:"id"`
	Text         string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct"`
	Category     string   `json:"category"`
	Difficulty   string   `json:"difficulty"`
}

// Category is a localized question category.
type Category struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Icon        string `json:"icon"`
	Difficulty  string `json:"difficulty"`
}
