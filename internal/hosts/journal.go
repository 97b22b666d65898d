package hosts

// Recorder 流水线事件记录接口
// 仅用于观测，流水线决策从不读取记录结果
type Recorder interface {
	Record(stage, result, message string) error
}

// NopRecorder 空实现，事件日志未启用时使用
type NopRecorder struct{}

// Record 丢弃事件
func (NopRecorder) Record(stage, result, message string) error { return nil }
