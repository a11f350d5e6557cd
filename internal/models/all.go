package models

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Member{},
		&Wallet{},
		&Transaction{},
		&MatrixLevel{},
		&MatrixPlacement{},
		&RankAchievement{},
		&ActivationCode{},
		&Withdrawal{},
		&Investment{},
	}
}
