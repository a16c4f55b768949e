package livy

// BatchRequest is the body of POST /batches.
type BatchRequest struct {
	File           string            `json:"file"`
	ClassName      string            `json:"className,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Jars           []string          `json:"jars,omitempty"`
	Files          []string          `json:"files,omitempty"`
	PyFiles        []string          `json:"pyFiles,omitempty"`
	Conf           map[string]string `json:"conf,omitempty"`
	DriverMemory   string            `json:"driverMemory,omitempty"`
	DriverCores    int               `json:"driverCores,omitempty"`
	ExecutorMemory string            `json:"executorMemory,omitempty"`
	ExecutorCores  int               `json:"executorCores,omitempty"`
	NumExecutors   int               `json:"numExecutors,omitempty"`
	Name           string            `json:"name,omitempty"`
}

// Batch is the batch view returned by POST /batches and GET /batches/{id}.
type Batch struct {
	ID      int               `json:"id"`
	Name    string            `json:"name,omitempty"`
	AppID   string            `json:"appId,omitempty"`
	AppInfo map[string]string `json:"appInfo,omitempty"`
	Log     []string          `json:"log,omitempty"`
	State   string            `json:"state"`
}

// BatchList is the body of GET /batches.
type BatchList struct {
	From     int     `json:"from"`
	Total    int     `json:"total"`
	Sessions []Batch `json:"sessions"`
}

// StateResponse is the body of GET /batches/{id}/state.
type StateResponse struct {
	ID    int    `json:"id"`
	State string `json:"state"`
}

// LogResponse is the body of GET /batches/{id}/log.
//
// From and Total count lines of the combined batch log. Lines carry no
// trailing newline.
type LogResponse struct {
	ID    int      `json:"id"`
	From  int      `json:"from"`
	Total int      `json:"total"`
	Log   []string `json:"log"`
}

// LogType selects one section of the combined batch log.
type LogType string

const (
	LogStdout LogType = "stdout"
	LogStderr LogType = "stderr"
)

// AppInfo keys reported by Livy.
const (
	AppInfoDriverLogURL = "driverLogUrl"
	AppInfoSparkUIURL   = "sparkUiUrl"
)
