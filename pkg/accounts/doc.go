// Package accounts implements local email and password accounts: sign-up
// with an emailed verification code, login, password reset and the admin
// operations on other accounts.
package accounts
