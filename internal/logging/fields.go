package logging

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func MemberID(id string) zap.Field {
	return zap.String("member-id", id)
}

func Amount(d decimal.Decimal) zap.Field {
	return zap.String("amount", d.StringFixed(2))
}

func Level(l int) zap.Field {
	return zap.Int("level", l)
}

func Error(err error) zap.Field {
	return zap.Error(err)
}

func String(key, val string) zap.Field {
	return zap.String(key, val)
}

func Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

func Decimal(key string, d decimal.Decimal) zap.Field {
	return zap.String(key, d.StringFixed(2))
}
