package extract

// Recorder receives run metrics. RecordUnit is called once per
// (scenario, collection) unit and RecordDataset once per property.
type Recorder interface {
	RecordUnit(status string)
	RecordDataset(status string)
	RecordWindow()
	RecordRows(dataset string, n int)
	RecordSkippedRows(n int)
	ObserveQuery(seconds float64)
	RecordError(component, reason string)
	RecordConsolidation(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordUnit(string) {}
func (nopRecorder) RecordDataset(string) {}
func (nopRecorder) RecordWindow() {}
func (nopRecorder) RecordRows(string, int) {}
func (nopRecorder) RecordSkippedRows(int) {}
func (nopRecorder) ObserveQuery(float64) {}
func (nopRecorder) RecordError(string, string) {}
func (nopRecorder) RecordConsolidation(string) {}
