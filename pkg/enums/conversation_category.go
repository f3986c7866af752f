package enums

import "fmt"

// ConversationCategory maps to the conversation_category enum in Postgres and mirrors
// the provider's conversation pricing categories.
type ConversationCategory string

const (
	ConversationCategoryUtility        ConversationCategory = "utility"
	ConversationCategoryMarketing      ConversationCategory = "marketing"
	ConversationCategoryAuthentication ConversationCategory = "authentication"
	ConversationCategoryService        ConversationCategory = "service"
)

var validConversationCategories = []ConversationCategory{
	ConversationCategoryUtility,
	ConversationCategoryMarketing,
	ConversationCategoryAuthentication,
	ConversationCategoryService,
}

// String implements fmt.Stringer.
func (c ConversationCategory) String() string {
	return string(c)
}

// IsValid reports whether the value matches the canonical category enum.
func (c ConversationCategory) IsValid() bool {
	for _, candidate := range validConversationCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseConversationCategory converts raw input into a ConversationCategory.
func ParseConversationCategory(value string) (ConversationCategory, error) {
	for _, candidate := range validConversationCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conversation category %q", value)
}

// ConversationCategories returns all categories in their canonical order.
func ConversationCategories() []ConversationCategory {
	out := make([]ConversationCategory, len(validConversationCategories))
	copy(out, validConversationCategories)
	return out
}
