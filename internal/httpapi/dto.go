package httpapi

import "github.com/vampirenirmal/taletwo/internal/storymodel"

// CreateBookRequest is the body of POST /api/books. Every field is
// free-text configuration threaded into prompts verbatim, so none are
// required — an entirely empty body creates a blank book the reader can
// still start.
type CreateBookRequest struct {
	SourceTitleA  string `json:"sourceTitleA" validate:"omitempty,max=200"`
	SourceTitleB  string `json:"sourceTitleB" validate:"omitempty,max=200"`
	World         string `json:"world" validate:"omitempty,max=2000"`
	MainCharacter string `json:"mainCharacter" validate:"omitempty,max=500"`
	Genre         string `json:"genre" validate:"omitempty,max=200"`
}

func (req CreateBookRequest) toConfig() storymodel.Config {
	return storymodel.Config{
		SourceTitleA:  req.SourceTitleA,
		SourceTitleB:  req.SourceTitleB,
		World:         req.World,
		MainCharacter: req.MainCharacter,
		Genre:         req.Genre,
	}
}

// CreateBookResponse is the body of POST /api/books's 201 response.
type CreateBookResponse struct {
	ID string `json:"id"`
}

// NextRequest is the body of POST /api/books/{id}/story/next.
type NextRequest struct {
	Index int `json:"index" validate:"min=-1"`
}

// ChooseRequest is the body of POST /api/books/{id}/story/choose.
type ChooseRequest struct {
	Index    int    `json:"index" validate:"min=0"`
	OptionID string `json:"optionId" validate:"omitempty"`
	Text     string `json:"text" validate:"omitempty"`
}
