package dto

// StudentStats summarises a single student's submissions.
type StudentStats struct {
	TotalSubmissions    int `json:"total_submissions"`
	ApprovedSubmissions int `json:"approved_submissions"`
	AverageScore        int `json:"average_score"`
	AwaitingReview      int `json:"awaiting_review"`
	Processing          int `json:"processing"`
	Failed              int `json:"failed"`
}

// ClassroomStats summarises every submission for teachers.
type ClassroomStats struct {
	TotalSubmissions     int `json:"total_submissions"`
	ApprovedSubmissions  int `json:"approved_submissions"`
	AverageScore         int `json:"average_score"`
	WeakTopicsPercentage int `json:"weak_topics_percentage"`
	AwaitingReview       int `json:"awaiting_review"`
}

// WeakTopicStat reports how often a topic was flagged across submissions.
type WeakTopicStat struct {
	Topic      string `json:"topic"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// StudentDashboardResponse combines stats with the student's recent submissions.
type StudentDashboardResponse struct {
	Stats  StudentStats         `json:"stats"`
	Recent []SubmissionResponse `json:"recent"`
}
