package app

const StateIdle = 0x0201
const StateAssembled = 0x0202
const StateRunning = 0x0203

func StateName(state int) string {
	switch state {
	case StateIdle:
		return "idle"
	case StateAssembled:
		return "assembled"
	case StateRunning:
		return "running"
	}
	return "unknown"
}
