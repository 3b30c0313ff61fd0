package pumpclient

// StatusResponse mirrors the subset of a print-server's job-status payload
// this client cares about.
type StatusResponse struct {
	State    string `json:"state"`
	Progress struct {
		Completion float64 `json:"completion"`
	} `json:"progress"`
	Job struct {
		File struct {
			Name string `json:"name"`
		} `json:"file"`
	} `json:"job"`
}

// IsDone reports whether the server considers the job at path finished:
// operational, complete, and naming the file we asked it to print.
func (s StatusResponse) IsDone(baseName string) bool {
	return s.State == "Operational" && s.Progress.Completion >= 100 && s.Job.File.Name == baseName
}

type gcodeDecodeResult struct {
	Done bool `json:"done"`
}
