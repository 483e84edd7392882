package models

type UploadStatus string

const (
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusComplete  UploadStatus = "complete"
	UploadStatusError     UploadStatus = "error"
)

type UploadProgress struct {
	FileName string       `json:"fileName"`
	Progress int          `json:"progress"`
	Status   UploadStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
	URL      string       `json:"url,omitempty"`
}
