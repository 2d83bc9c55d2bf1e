package terminal

import (
	"strconv"

	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
)

// Retcode is a trade server return code.
type Retcode uint32

const (
	RetcodeRequote           Retcode = 10004
	RetcodeReject            Retcode = 10006
	RetcodeCancel            Retcode = 10007
	RetcodePlaced            Retcode = 10008
	RetcodeDone              Retcode = 10009
	RetcodeDonePartial       Retcode = 10010
	RetcodeError             Retcode = 10011
	RetcodeTimeout           Retcode = 10012
	RetcodeInvalid           Retcode = 10013
	RetcodeInvalidVolume     Retcode = 10014
	RetcodeInvalidPrice      Retcode = 10015
	RetcodeInvalidStops      Retcode = 10016
	RetcodeTradeDisabled     Retcode = 10017
	RetcodeMarketClosed      Retcode = 10018
	RetcodeNoMoney           Retcode = 10019
	RetcodePriceChanged      Retcode = 10020
	RetcodePriceOff          Retcode = 10021
	RetcodeInvalidExpiration Retcode = 10022
	RetcodeOrderChanged      Retcode = 10023
	RetcodeTooManyRequests   Retcode = 10024
	RetcodeNoChanges         Retcode = 10025
	RetcodeServerDisablesAT  Retcode = 10026
	RetcodeClientDisablesAT  Retcode = 10027
	RetcodeLocked            Retcode = 10028
	RetcodeFrozen            Retcode = 10029
	RetcodeInvalidFill       Retcode = 10030
	RetcodeConnection        Retcode = 10031
	RetcodeOnlyReal          Retcode = 10032
	RetcodeLimitOrders       Retcode = 10033
	RetcodeLimitVolume       Retcode = 10034
	RetcodeInvalidOrder      Retcode = 10035
	RetcodePositionClosed    Retcode = 10036
)

var retcodeText = map[Retcode]string{
	RetcodeRequote:           "Requote",
	RetcodeReject:            "Request rejected",
	RetcodeCancel:            "Request canceled by trader",
	RetcodePlaced:            "Order placed",
	RetcodeDone:              "Request completed",
	RetcodeDonePartial:       "Only part of the request was completed",
	RetcodeError:             "Request processing error",
	RetcodeTimeout:           "Request canceled by timeout",
	RetcodeInvalid:           "Invalid request",
	RetcodeInvalidVolume:     "Invalid volume in the request",
	RetcodeInvalidPrice:      "Invalid price in the request",
	RetcodeInvalidStops:      "Invalid stops in the request",
	RetcodeTradeDisabled:     "Trade is disabled",
	RetcodeMarketClosed:      "Market is closed",
	RetcodeNoMoney:           "There is not enough money to complete the request",
	RetcodePriceChanged:      "Prices changed",
	RetcodePriceOff:          "There are no quotes to process the request",
	RetcodeInvalidExpiration: "Invalid order expiration date in the request",
	RetcodeOrderChanged:      "Order state changed",
	RetcodeTooManyRequests:   "Too frequent requests",
	RetcodeNoChanges:         "No changes in request",
	RetcodeServerDisablesAT:  "Autotrading disabled by server",
	RetcodeClientDisablesAT:  "Autotrading disabled by client terminal",
	RetcodeLocked:            "Request locked for processing",
	RetcodeFrozen:            "Order or position frozen",
	RetcodeInvalidFill:       "Invalid order filling type",
	RetcodeConnection:        "No connection with the trade server",
	RetcodeOnlyReal:          "Operation is allowed only for live accounts",
	RetcodeLimitOrders:       "The number of pending orders has reached the limit",
	RetcodeLimitVolume:       "The volume of orders and positions for the symbol has reached the limit",
	RetcodeInvalidOrder:      "Incorrect or prohibited order type",
	RetcodePositionClosed:    "Position with the specified identifier has already been closed",
}

// Description returns the human-readable meaning of the code.
func (r Retcode) Description() string {
	if text, ok := retcodeText[r]; ok {
		return text
	}
	return "Unknown trade server return code " + strconv.Itoa(int(r))
}

// Success reports whether the request was accepted.
func (r Retcode) Success() bool {
	return r == RetcodeDone || r == RetcodePlaced || r == RetcodeDonePartial
}

// Runtime error codes raised by terminal functions outside order sending.
const (
	ErrChartWrongID          = 4101
	ErrChartNoReply          = 4102
	ErrChartNotFound         = 4103
	ErrChartNoExpert         = 4104
	ErrChartCannotOpen       = 4105
	ErrChartCannotChange     = 4106
	ErrChartWrongParameter   = 4107
	ErrUnknownSymbol         = 4301
	ErrHistoryNotFound       = 4401
	ErrIndicatorUnknownSym   = 4801
	ErrIndicatorCannotCreate = 4802
	ErrIndicatorNoData       = 4806
	ErrIndicatorWrongHandle  = 4807
	ErrIndicatorWrongParams  = 4808
)

var runtimeText = map[int]string{
	ErrChartWrongID:          "Wrong chart ID",
	ErrChartNoReply:          "Chart does not respond",
	ErrChartNotFound:         "Chart not found",
	ErrChartNoExpert:         "No Expert Advisor in the chart that could handle the event",
	ErrChartCannotOpen:       "Chart opening error",
	ErrChartCannotChange:     "Failed to change chart symbol and period",
	ErrChartWrongParameter:   "Wrong value of the parameter for the chart function",
	ErrUnknownSymbol:         "Unknown symbol",
	ErrHistoryNotFound:       "Requested history not found",
	ErrIndicatorUnknownSym:   "Unknown symbol",
	ErrIndicatorCannotCreate: "Indicator cannot be created",
	ErrIndicatorNoData:       "Requested data not found",
	ErrIndicatorWrongHandle:  "Wrong indicator handle",
	ErrIndicatorWrongParams:  "Wrong number of parameters when creating an indicator",
}

// RuntimeError builds a platform error for a terminal runtime error code.
func RuntimeError(op string, code int) error {
	text, ok := runtimeText[code]
	if !ok {
		text = "Runtime error " + strconv.Itoa(code)
	}
	return errs.Platform(op, code, text)
}

// TradeError builds a platform error for a rejected trade request.
func TradeError(op string, code Retcode) error {
	return errs.Platform(op, int(code), code.Description())
}
