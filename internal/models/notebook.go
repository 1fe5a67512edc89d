package models

// NotebookEntryModel is a completed study section persisted to the user's notebook.
// Entries are immutable after creation; reads never touch them.
type NotebookEntryModel struct {
	Base
	UserID    string `json:"user_id"    gorm:"index;not null"`
	Title     string `json:"title"      gorm:"not null"`
	Content   string `json:"content"    gorm:"type:longtext"`
	HasAudio  bool   `json:"has_audio"`
	UsedModel string `json:"used_model"`
}

func (NotebookEntryModel) TableName() string { return "notebook_entries" }
