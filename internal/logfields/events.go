package logfields

import "go.uber.org/zap"

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func Subscription(val string) zap.Field {
	return zap.String("depflow.subscription", val)
}

func Channel(val string) zap.Field {
	return zap.String("depflow.channel", val)
}

func Build(val string) zap.Field {
	return zap.String("depflow.build", val)
}

func TargetKey(val string) zap.Field {
	return zap.String("depflow.target_key", val)
}

func ReminderKind(val string) zap.Field {
	return zap.String("depflow.reminder_kind", val)
}
