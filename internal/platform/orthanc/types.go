package orthanc

// StudyDetails is the study summary returned by GET /studies/{id}. Tag maps
// are kept open-ended because the set of DICOM tags Orthanc reports varies by
// modality and uploader.
type StudyDetails struct {
	ID                   string            `json:"ID"`
	MainDicomTags        map[string]string `json:"MainDicomTags"`
	PatientMainDicomTags map[string]string `json:"PatientMainDicomTags"`
	Series               []string          `json:"Series"`
	IsStable             bool              `json:"IsStable"`
	LastUpdate           string            `json:"LastUpdate"`
}

// SeriesDetails is returned by GET /series/{id}.
type SeriesDetails struct {
	ID            string            `json:"ID"`
	MainDicomTags map[string]string `json:"MainDicomTags"`
	Instances     []string          `json:"Instances"`
}

// Instance is one element of the array returned by GET /studies/{id}/instances.
type Instance struct {
	ID            string            `json:"ID"`
	MainDicomTags map[string]string `json:"MainDicomTags"`
}

// SystemInfo is returned by GET /system.
type SystemInfo struct {
	Name       string `json:"Name"`
	Version    string `json:"Version"`
	APIVersion int    `json:"ApiVersion"`
}
