package config

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"mlm-network/internal/models"
)

type Config struct {
	Env           string
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	DBSSLMode     string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	BotToken      string

	MetricsAddr         string
	MetricsAllowedCIDRs []string

	Location          *time.Location
	SchedulerInterval time.Duration
	BatchSize         int

	Commission Commission
}

// Commission holds every tunable constant of the commission engine.
type Commission struct {
	SelfBonus   decimal.Decimal
	DirectBonus decimal.Decimal
	DailyIncome decimal.Decimal

	MatrixDepth   int
	MatrixWidth   int64
	MatrixRewards []decimal.Decimal

	Ranks []RankThreshold

	MinWithdrawal    decimal.Decimal
	InvestmentPrice  decimal.Decimal
	InvestmentReturn decimal.Decimal
	InvestmentTerm   time.Duration

	RetryMax             uint64
	RetryInitialInterval time.Duration
}

// RankThreshold pays Bonus once a member has Members direct active referrals.
type RankThreshold struct {
	Rank    models.Rank
	Members int64
	Bonus   decimal.Decimal
}

const defaultRankTable = "Bronze:25:500,Silver:50:1000,Gold:100:2500,Ruby:200:10000," +
	"Diamond:400:15000,Platinum:800:25000,King:1600:60000"

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "Asia/Kolkata"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	commission, err := loadCommission()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:                 getEnv("APP_ENV", "dev"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", "postgres"),
		DBName:              getEnv("DB_NAME", "mlm_network"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBSSLMode:           getEnv("DB_SSLMODE", "disable"),
		RedisHost:           getEnv("REDIS_HOST", "localhost"),
		RedisPort:           getEnv("REDIS_PORT", "6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		BotToken:            getEnv("TELEGRAM_BOT_TOKEN", ""),
		MetricsAddr:         getEnv("METRICS_ADDR", ":9100"),
		MetricsAllowedCIDRs: getEnvAsSlice("METRICS_ALLOWED_CIDRS", []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8"}),
		Location:            loc,
		SchedulerInterval:   getEnvAsDuration("SCHEDULER_INTERVAL", time.Hour),
		BatchSize:           getEnvAsInt("BATCH_SIZE", 500),
		Commission:          *commission,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadCommission() (*Commission, error) {
	rewards, err := getEnvAsDecimalList("MATRIX_REWARDS", "5,4,3,2,2,2,2")
	if err != nil {
		return nil, err
	}
	ranks, err := ParseRankTable(getEnv("RANK_TABLE", defaultRankTable))
	if err != nil {
		return nil, err
	}

	c := &Commission{
		MatrixDepth:          getEnvAsInt("MATRIX_DEPTH", 7),
		MatrixWidth:          int64(getEnvAsInt("MATRIX_WIDTH", 5)),
		MatrixRewards:        rewards,
		Ranks:                ranks,
		InvestmentTerm:       getEnvAsDuration("INVESTMENT_TERM", 35*24*time.Hour),
		RetryMax:             uint64(getEnvAsInt("RETRY_MAX", 5)),
		RetryInitialInterval: getEnvAsDuration("RETRY_INITIAL_INTERVAL", 50*time.Millisecond),
	}

	for _, f := range []struct {
		key      string
		fallback string
		dst      *decimal.Decimal
	}{
		{"SELF_BONUS", "10", &c.SelfBonus},
		{"DIRECT_BONUS", "20", &c.DirectBonus},
		{"DAILY_INCOME", "5", &c.DailyIncome},
		{"MIN_WITHDRAWAL", "150", &c.MinWithdrawal},
		{"INVESTMENT_PRICE", "5999", &c.InvestmentPrice},
		{"INVESTMENT_RETURN", "15000", &c.InvestmentReturn},
	} {
		v, err := getEnvAsDecimal(f.key, f.fallback)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return c, nil
}

// DefaultCommission returns the production schedule without reading the environment.
func DefaultCommission() Commission {
	ranks, err := ParseRankTable(defaultRankTable)
	if err != nil {
		panic(err)
	}
	return Commission{
		SelfBonus:            decimal.NewFromInt(10),
		DirectBonus:          decimal.NewFromInt(20),
		DailyIncome:          decimal.NewFromInt(5),
		MatrixDepth:          7,
		MatrixWidth:          5,
		MatrixRewards:        decimalList(5, 4, 3, 2, 2, 2, 2),
		Ranks:                ranks,
		MinWithdrawal:        decimal.NewFromInt(150),
		InvestmentPrice:      decimal.NewFromInt(5999),
		InvestmentReturn:     decimal.NewFromInt(15000),
		InvestmentTerm:       35 * 24 * time.Hour,
		RetryMax:             5,
		RetryInitialInterval: 50 * time.Millisecond,
	}
}

func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return errors.New("BATCH_SIZE must be positive")
	}
	if c.SchedulerInterval <= 0 {
		return errors.New("SCHEDULER_INTERVAL must be positive")
	}
	return c.Commission.Validate()
}

func (c *Commission) Validate() error {
	for name, v := range map[string]decimal.Decimal{
		"self bonus":        c.SelfBonus,
		"direct bonus":      c.DirectBonus,
		"daily income":      c.DailyIncome,
		"investment price":  c.InvestmentPrice,
		"investment return": c.InvestmentReturn,
	} {
		if !v.IsPositive() {
			return fmt.Errorf("%s must be positive, got %s", name, v)
		}
		if !models.FitsMoneyScale(v) {
			return fmt.Errorf("%s %s has more than two decimal places", name, v)
		}
	}
	if c.MinWithdrawal.IsNegative() {
		return errors.New("minimum withdrawal cannot be negative")
	}
	if !models.FitsMoneyScale(c.MinWithdrawal) {
		return fmt.Errorf("minimum withdrawal %s has more than two decimal places", c.MinWithdrawal)
	}
	if c.MatrixDepth <= 0 {
		return errors.New("matrix depth must be positive")
	}
	if c.MatrixWidth < 2 {
		return errors.New("matrix width must be at least 2")
	}
	// The deepest level's capacity, width^depth, must fit in an int64.
	capacity := int64(1)
	for i := 0; i < c.MatrixDepth; i++ {
		if capacity > math.MaxInt64/c.MatrixWidth {
			return fmt.Errorf("matrix capacity %d^%d overflows", c.MatrixWidth, c.MatrixDepth)
		}
		capacity *= c.MatrixWidth
	}
	if len(c.MatrixRewards) != c.MatrixDepth {
		return fmt.Errorf("matrix reward table has %d levels, want %d", len(c.MatrixRewards), c.MatrixDepth)
	}
	for i, r := range c.MatrixRewards {
		if !r.IsPositive() || !models.FitsMoneyScale(r) {
			return fmt.Errorf("matrix reward for level %d must be positive with at most two decimal places", i+1)
		}
		if i > 0 && r.GreaterThan(c.MatrixRewards[i-1]) {
			return fmt.Errorf("matrix reward for level %d exceeds level %d", i+1, i)
		}
	}
	for i, t := range c.Ranks {
		if !t.Rank.Valid() || t.Rank == models.RankNewcomer {
			return fmt.Errorf("rank table: unknown rank %q", t.Rank)
		}
		if t.Members <= 0 || !t.Bonus.IsPositive() {
			return fmt.Errorf("rank table: %s needs positive members and bonus", t.Rank)
		}
		if !models.FitsMoneyScale(t.Bonus) {
			return fmt.Errorf("rank table: %s bonus %s has more than two decimal places", t.Rank, t.Bonus)
		}
		if i > 0 {
			prev := c.Ranks[i-1]
			if t.Members <= prev.Members || !prev.Rank.Below(t.Rank) {
				return fmt.Errorf("rank table: %s must come after %s with more members", t.Rank, prev.Rank)
			}
		}
	}
	if c.InvestmentTerm <= 0 {
		return errors.New("investment term must be positive")
	}
	return nil
}

// ParseRankTable reads "Rank:members:bonus" entries separated by commas.
func ParseRankTable(s string) ([]RankThreshold, error) {
	var out []RankThreshold
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("rank table entry %q: want rank:members:bonus", entry)
		}
		members, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rank table entry %q: %w", entry, err)
		}
		bonus, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("rank table entry %q: %w", entry, err)
		}
		out = append(out, RankThreshold{Rank: models.Rank(parts[0]), Members: members, Bonus: bonus})
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

func getEnvAsDecimal(key, fallback string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvAsDecimalList(key, fallback string) ([]decimal.Decimal, error) {
	var out []decimal.Decimal
	for _, part := range getEnvAsSlice(key, strings.Split(fallback, ",")) {
		v, err := decimal.NewFromString(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func decimalList(vs ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}
