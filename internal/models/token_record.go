package models

// TokenRecord ties an employee to the push token of their registered device.
// Token is empty until the employee registers a device.
type TokenRecord struct {
	EmployeeID int64  `json:"empId"`
	Name       string `json:"name"`
	Token      string `json:"token"`
}
