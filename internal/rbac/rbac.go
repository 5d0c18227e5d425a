// Package rbac decides what a role may do and which documents a clearance
// may see.
package rbac

type Role string
type Action string
type Level string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionGenerate Action = "generate"
	ActionReview   Action = "review"
	ActionApprove  Action = "approve"
	ActionManage   Action = "manage"
)

const (
	LevelPublic       Level = "public"
	LevelRestricted   Level = "restricted"
	LevelConfidential Level = "confidential"
	LevelSecret       Level = "secret"
)

var levelRank = map[Level]int{
	LevelPublic:       0,
	LevelRestricted:   1,
	LevelConfidential: 2,
	LevelSecret:       3,
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionGenerate || action == ActionReview
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// NormalizeLevel maps unknown values to restricted, the schema default.
func NormalizeLevel(level string) Level {
	if _, ok := levelRank[Level(level)]; ok {
		return Level(level)
	}
	return LevelRestricted
}

func ValidLevel(level string) bool {
	_, ok := levelRank[Level(level)]
	return ok
}

// Cleared reports whether a user holding clearance may open a document
// classified at level. Unknown levels are treated as secret.
func Cleared(clearance, level Level) bool {
	have, ok := levelRank[clearance]
	if !ok {
		return false
	}
	need, ok := levelRank[level]
	if !ok {
		need = levelRank[LevelSecret]
	}
	return have >= need
}

// VisibleLevels lists every level the clearance can see, lowest first.
func VisibleLevels(clearance Level) []Level {
	have, ok := levelRank[clearance]
	if !ok {
		return nil
	}
	out := make([]Level, 0, len(levelRank))
	for _, level := range []Level{LevelPublic, LevelRestricted, LevelConfidential, LevelSecret} {
		if levelRank[level] <= have {
			out = append(out, level)
		}
	}
	return out
}
