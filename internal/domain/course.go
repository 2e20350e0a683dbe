package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Course is the persisted course row. Created as a placeholder when a
// generation run is enqueued and filled in by the final commit.
type Course struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	Description string         `gorm:"column:description" json:"description"`
	Difficulty  string         `gorm:"column:difficulty" json:"difficulty"`
	Language    string         `gorm:"column:language" json:"language"`
	Metadata    datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Course) TableName() string { return "course" }

type CourseSection struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	SectionNumber int            `gorm:"column:section_number;not null" json:"section_number"`
	Title         string         `gorm:"column:title;not null" json:"title"`
	Description   string         `gorm:"column:description" json:"description"`
	Objectives    datatypes.JSON `gorm:"column:objectives;type:jsonb" json:"objectives"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (CourseSection) TableName() string { return "course_section" }

type CourseLesson struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SectionID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"section_id"`
	LessonNumber    int            `gorm:"column:lesson_number;not null" json:"lesson_number"`
	Title           string         `gorm:"column:title;not null" json:"title"`
	Objectives      datatypes.JSON `gorm:"column:objectives;type:jsonb" json:"objectives"`
	KeyTopics       datatypes.JSON `gorm:"column:key_topics;type:jsonb" json:"key_topics"`
	DurationMinutes int            `gorm:"column:duration_minutes;not null;default:10" json:"duration_minutes"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (CourseLesson) TableName() string { return "course_lesson" }

type CourseExercise struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LessonID    uuid.UUID `gorm:"type:uuid;not null;index" json:"lesson_id"`
	Index       int       `gorm:"column:index;not null" json:"index"`
	Type        string    `gorm:"column:type;not null" json:"type"`
	Title       string    `gorm:"column:title;not null" json:"title"`
	Description string    `gorm:"column:description" json:"description"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CourseExercise) TableName() string { return "course_exercise" }

// GenerationRun tracks one queued/running/finished generation attempt for a
// course. The worker claims runs through this row; the controller's final
// accounting is persisted into it.
type GenerationRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	CourseID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	Status       string         `gorm:"column:status;not null;index" json:"status"` // queued|running|succeeded|failed|canceled
	Phase        string         `gorm:"column:phase;not null;index" json:"phase"`
	Progress     int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	ErrorCode    string         `gorm:"column:error_code" json:"error_code"`
	Error        string         `gorm:"column:error" json:"error"`
	InputTokens  int            `gorm:"column:input_tokens;not null;default:0" json:"input_tokens"`
	OutputTokens int            `gorm:"column:output_tokens;not null;default:0" json:"output_tokens"`
	CostUSD      float64        `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	Request      datatypes.JSON `gorm:"column:request;type:jsonb" json:"request"`
	Result       datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	LastErrorAt  *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LockedAt     *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt  *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (GenerationRun) TableName() string { return "generation_run" }
