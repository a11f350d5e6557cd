package models

// Category names a cumulative earnings counter of a Wallet.
type Category string

const (
	CategorySelfIncome       Category = "selfIncome"
	CategoryDirectIncome     Category = "directIncome"
	CategoryMatrixIncome     Category = "matrixIncome"
	CategoryDailyIncome      Category = "dailyIncome"
	CategoryDailyTeamIncome  Category = "dailyTeamIncome"
	CategoryRankRewards      Category = "rankRewards"
	CategoryInvestmentIncome Category = "investmentIncome"
)

// TxType is the audit type of a ledger Transaction.
type TxType string

const (
	TxSelfIncome         TxType = "self_income"
	TxDirectIncome       TxType = "direct_income"
	TxMatrixIncome       TxType = "matrix_income"
	TxDailyIncome        TxType = "daily_income"
	TxDailyTeamIncome    TxType = "daily_team_income"
	TxRankReward         TxType = "rank_reward"
	TxInvestmentReturn   TxType = "investment_return"
	TxWithdrawal         TxType = "withdrawal"
	TxInvestmentPurchase TxType = "investment_purchase"
	TxRefund             TxType = "refund"
)

// CategoryTx maps every earning category to the transaction type it is credited under.
var CategoryTx = map[Category]TxType{
	CategorySelfIncome:       TxSelfIncome,
	CategoryDirectIncome:     TxDirectIncome,
	CategoryMatrixIncome:     TxMatrixIncome,
	CategoryDailyIncome:      TxDailyIncome,
	CategoryDailyTeamIncome:  TxDailyTeamIncome,
	CategoryRankRewards:      TxRankReward,
	CategoryInvestmentIncome: TxInvestmentReturn,
}
