package entity

import "errors"

var (
	// Blueprint errors
	ErrInvalidBlueprintName = errors.New("invalid blueprint name")
	ErrBlueprintNotFound    = errors.New("blueprint not found")

	// Agent errors
	ErrInvalidAgentID = errors.New("invalid agent id")

	// Message errors
	ErrInvalidMessage = errors.New("invalid message: required field missing")

	// Schedule errors
	ErrInvalidScheduleID  = errors.New("invalid schedule id")
	ErrScheduleNotFound   = errors.New("schedule not found")
	ErrInvalidScheduleDef = errors.New("invalid schedule definition")
)
